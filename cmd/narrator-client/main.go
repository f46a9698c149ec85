// Command narrator-client submits chapter synthesis jobs to a running
// narrator worker over NATS and writes the resulting audio to disk.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/narravox/narrator/internal/core"
	"github.com/narravox/narrator/internal/protocol"
)

// Flag descriptions.
const (
	flagTextDesc    = "Chapter text to synthesize"
	flagFileDesc    = "File containing the chapter text"
	flagVoiceDesc   = "Voice identifier"
	flagSpeedDesc   = "Playback speed multiplier"
	flagFormatDesc  = "Output container (mp3 or wav)"
	flagOutputDesc  = "Output path (file for jobs, directory for streams)"
	flagNatsDesc    = "NATS server URL"
	flagSubjectDesc = "Chapter job subject"
	flagStreamDesc  = "Stream chunks instead of requesting a whole chapter"
	flagBookDesc    = "Book slug for cache identity (optional)"
	flagItemDesc    = "Chapter item id for cache identity (optional)"
)

const requestTimeout = 5 * time.Minute

var (
	errTextOrFileRequired = errors.New("either --text or --file must be provided")
	errTextAndFile        = errors.New("cannot specify both --text and --file")
	errJobFailed          = errors.New("job failed")
	errStreamFailed       = errors.New("stream failed")
)

type appFlags struct {
	text    string
	file    string
	voice   string
	speed   float64
	format  string
	output  string
	natsURL string
	subject string
	stream  bool
	book    string
	item    string
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	job, err := buildJob(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	conn, err := nats.Connect(flags.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}
	defer conn.Close()

	if flags.stream {
		return streamChapter(conn, flags, job)
	}

	return requestChapter(conn, flags, job)
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.StringVar(&flags.file, "file", "", flagFileDesc)
	flag.StringVar(&flags.voice, "voice", core.DefaultVoice, flagVoiceDesc)
	flag.Float64Var(&flags.speed, "speed", 1.0, flagSpeedDesc)
	flag.StringVar(&flags.format, "format", string(core.FormatMP3), flagFormatDesc)
	flag.StringVar(&flags.output, "output", "chapter-audio", flagOutputDesc)
	flag.StringVar(&flags.natsURL, "nats-url", nats.DefaultURL, flagNatsDesc)
	flag.StringVar(&flags.subject, "subject", "narrator.chapter", flagSubjectDesc)
	flag.BoolVar(&flags.stream, "stream", false, flagStreamDesc)
	flag.StringVar(&flags.book, "book", "", flagBookDesc)
	flag.StringVar(&flags.item, "item", "", flagItemDesc)
	flag.Parse()

	return flags
}

// buildJob validates the input flags and assembles the job event.
func buildJob(flags appFlags) (*protocol.ChapterJobEvent, error) {
	if flags.text == "" && flags.file == "" {
		return nil, errTextOrFileRequired
	}

	if flags.text != "" && flags.file != "" {
		return nil, errTextAndFile
	}

	chapterText := flags.text
	if flags.file != "" {
		data, err := os.ReadFile(flags.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read text file: %w", err)
		}

		chapterText = string(data)
	}

	return &protocol.ChapterJobEvent{
		Header: protocol.EventHeader{
			WorkflowID: uuid.NewString(),
			CreatedAt:  time.Now().UTC(),
		},
		BookSlug:      flags.book,
		ChapterItemID: flags.item,
		Text:          chapterText,
		TextKey:       "",
		Voice:         flags.voice,
		Speed:         flags.speed,
		Format:        core.OutputFormat(flags.format),
	}, nil
}

func requestChapter(conn *nats.Conn, flags appFlags, job *protocol.ChapterJobEvent) error {
	data, err := protocol.Marshal(job)
	if err != nil {
		return err
	}

	msg, err := conn.Request(flags.subject+".job", data, requestTimeout)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var failure protocol.ChapterJobFailedEvent

	unmarshalErr := json.Unmarshal(msg.Data, &failure)
	if unmarshalErr == nil && failure.Reason != "" {
		return fmt.Errorf("%w: %s", errJobFailed, failure.Reason)
	}

	var reply protocol.ChapterAudioCreatedEvent

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return fmt.Errorf("failed to parse reply: %w", err)
	}

	fmt.Printf("Synthesized %d sentences in %.2fs (cached: %v)\n",
		len(reply.Metadata), reply.ElapsedSeconds, reply.FromCache)

	if reply.AudioKey != "" {
		fmt.Printf("Audio spooled under key: %s\n", reply.AudioKey)
	}

	if reply.RemoteHandle != "" {
		fmt.Printf("Remote handle: %s\n", reply.RemoteHandle)
	}

	return nil
}

// streamChapter collects chunk events into numbered files under the output
// directory until the terminal event arrives.
func streamChapter(conn *nats.Conn, flags appFlags, job *protocol.ChapterJobEvent) error {
	inbox := nats.NewInbox()

	sub, err := conn.SubscribeSync(inbox)
	if err != nil {
		return fmt.Errorf("failed to subscribe to inbox: %w", err)
	}

	data, err := protocol.Marshal(job)
	if err != nil {
		return err
	}

	err = conn.PublishRequest(flags.subject+".stream", inbox, data)
	if err != nil {
		return fmt.Errorf("failed to publish stream request: %w", err)
	}

	mkdirErr := os.MkdirAll(flags.output, 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", mkdirErr)
	}

	for {
		msg, nextErr := sub.NextMsg(requestTimeout)
		if nextErr != nil {
			return fmt.Errorf("stream interrupted: %w", nextErr)
		}

		var event protocol.StreamChunkEvent

		unmarshalErr := json.Unmarshal(msg.Data, &event)
		if unmarshalErr != nil {
			return fmt.Errorf("failed to parse chunk: %w", unmarshalErr)
		}

		if event.Final {
			if event.Reason != "" {
				return fmt.Errorf("%w: %s", errStreamFailed, event.Reason)
			}

			fmt.Printf("Stream complete: %d chunks in %s\n", event.Sequence, flags.output)

			return nil
		}

		chunkPath := filepath.Join(
			flags.output,
			fmt.Sprintf("chunk-%04d.%s", event.Sequence, event.Format),
		)

		writeErr := os.WriteFile(chunkPath, event.Data, 0o600)
		if writeErr != nil {
			return fmt.Errorf("failed to write chunk %d: %w", event.Sequence, writeErr)
		}
	}
}
