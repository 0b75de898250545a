package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/pipeline"
)

// ErrInvalidMessage marks a message that can never be processed. Such
// messages skip the retry queue.
var ErrInvalidMessage = errors.New("queue: invalid message")

// RunRequest asks the worker to analyze one book. The vault is written below
// Prefix in the configured bucket, or below the output folder when no bucket
// is configured.
type RunRequest struct {
	RunID      string              `json:"run_id" validate:"omitempty,max=64"`
	BookID     string              `json:"book_id" validate:"required,excludes=.."`
	Metadata   common.BookMetadata `json:"metadata"`
	Highlights []common.Highlight  `json:"highlights" validate:"max=100000"`
	Prefix     string              `json:"prefix" validate:"omitempty,excludes=.."`
	Replace    bool                `json:"replace"`
}

func (r RunRequest) Book() common.Book {
	return common.Book{ID: r.BookID, Metadata: r.Metadata, Highlights: r.Highlights}
}

// CancelRequest stops a run that is in progress on this worker.
type CancelRequest struct {
	RunID string `json:"run_id" validate:"required"`
}

type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// ProgressEvent is published after every batch and once when the run ends.
type ProgressEvent struct {
	RunID      string            `json:"run_id"`
	BookID     string            `json:"book_id"`
	State      RunState          `json:"state"`
	Processed  int               `json:"processed_count"`
	Total      int               `json:"total_count"`
	Percentage int32             `json:"percentage"`
	Error      string            `json:"error,omitempty"`
	Summary    *pipeline.Summary `json:"summary,omitempty"`
	Documents  int               `json:"documents,omitempty"`
}

var validate = validator.New()

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(problems, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// DecodeRunRequest parses and validates a run request, assigning a run id
// when the sender did not.
func DecodeRunRequest(body []byte) (RunRequest, error) {
	var req RunRequest
	if err := decode(body, &req); err != nil {
		return RunRequest{}, err
	}
	if req.RunID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return RunRequest{}, fmt.Errorf("failed to generate run id: %w", err)
		}
		req.RunID = id
	}
	return req, nil
}

func DecodeCancelRequest(body []byte) (CancelRequest, error) {
	var req CancelRequest
	if err := decode(body, &req); err != nil {
		return CancelRequest{}, err
	}
	return req, nil
}
