package tools

import (
	"context"
	"strings"
	"time"

	"github.com/kbservice/kbquery/internal/errs"
)

// DefaultDateTimeFormat matches spec.md §4.7's "RFC-3339-like" default.
const DefaultDateTimeFormat = time.RFC3339

const maxFormatLen = 64

// DateTimeTool reports the current time. It never fails except on an
// invalid format string (spec.md §4.7).
type DateTimeTool struct {
	now func() time.Time
}

// NewDateTimeTool constructs the datetime tool against wall-clock time.
func NewDateTimeTool() *DateTimeTool {
	return &DateTimeTool{now: time.Now}
}

func (t *DateTimeTool) Name() string { return "datetime" }

func (t *DateTimeTool) Schema() Schema {
	return Schema{Params: []Param{
		{Name: "format", Type: ParamString, Required: false, Default: DefaultDateTimeFormat},
	}}
}

func (t *DateTimeTool) Execute(_ context.Context, params map[string]any) Result {
	format, ok := stringParam(params, "format", DefaultDateTimeFormat)
	if !ok {
		return Result{Success: false, Error: "format must be a string"}
	}
	if err := validateFormat(format); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	now := t.now
	if now == nil {
		now = time.Now
	}
	return Result{Success: true, Data: now().UTC().Format(format)}
}

// validateFormat rejects formats that can't plausibly be a Go reference-time
// layout: empty after trimming, oversized, or containing control bytes that
// would make the formatted output unusable downstream.
func validateFormat(format string) error {
	if strings.TrimSpace(format) == "" {
		return errs.New(errs.BadRequest, "format must not be blank")
	}
	if len(format) > maxFormatLen {
		return errs.New(errs.BadRequest, "format exceeds maximum length of 64 characters")
	}
	for _, r := range format {
		if r < 0x20 && r != '\t' {
			return errs.New(errs.BadRequest, "format contains a control character")
		}
	}
	return nil
}
