// Package builtin provides minimal default implementations of the
// capability names the task executors call by convention: speak, listen,
// watch, alert. Real audio capture/synthesis and camera-based perception
// are vendor- and hardware-specific integrations out of scope for this
// runtime; these implementations give the agent a working default so it
// can run headless or against a test harness, and are meant to be
// replaced by real hardware-backed Actions registered under the same
// names at the composition root.
package builtin

import (
	"log/slog"

	"github.com/srprobotics/homeagent/internal/action"
)

// Speak logs the text it would have synthesized and played back.
type Speak struct {
	action.Base
	logger *slog.Logger
}

// NewSpeak builds the default "speak" action.
func NewSpeak(logger *slog.Logger) *Speak {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speak{
		Base: action.NewBase(action.Metadata{
			Name:         "speak",
			Version:      "1.0.0",
			Description:  "text-to-speech output",
			Dependencies: []string{"audio_device"},
			Capabilities: []string{"tts", "audio_playback"},
		}),
		logger: logger.With("action", "speak"),
	}
}

func (a *Speak) Initialize(config map[string]any) error {
	a.MarkInitialized()
	return nil
}

func (a *Speak) Execute(ctx action.Context) (action.Result, error) {
	if !a.IsInitialized() {
		return action.Result{}, action.ErrNotInitialized("speak")
	}
	text, _ := ctx.InputData.(string)
	if text == "" {
		text = "(no text provided)"
	}
	a.logger.Info("speak", "text", text)
	return action.Result{Success: true, Output: map[string]any{"text": text}}, nil
}

func (a *Speak) Cleanup() error { return nil }

// Listen reports that no speech was captured; a real implementation backed
// by a microphone and ASR engine replaces this under the same name.
type Listen struct {
	action.Base
	logger *slog.Logger
}

// NewListen builds the default "listen" action.
func NewListen(logger *slog.Logger) *Listen {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listen{
		Base: action.NewBase(action.Metadata{
			Name:         "listen",
			Version:      "1.0.0",
			Description:  "speech capture and recognition",
			Dependencies: []string{"microphone", "asr_engine"},
			Capabilities: []string{"asr", "audio_capture"},
		}),
		logger: logger.With("action", "listen"),
	}
}

func (a *Listen) Initialize(config map[string]any) error {
	a.MarkInitialized()
	return nil
}

func (a *Listen) Execute(ctx action.Context) (action.Result, error) {
	if !a.IsInitialized() {
		return action.Result{}, action.ErrNotInitialized("listen")
	}
	a.logger.Debug("listen: no microphone backend configured, returning empty transcript")
	return action.Result{Success: true, Output: map[string]any{"text": ""}}, nil
}

func (a *Listen) Cleanup() error { return nil }

// Watch reports no emergency on every patrol cycle; a real implementation
// backed by a camera and a vision model replaces this under the same name.
type Watch struct {
	action.Base
	logger *slog.Logger
}

// NewWatch builds the default "watch" action.
func NewWatch(logger *slog.Logger) *Watch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watch{
		Base: action.NewBase(action.Metadata{
			Name:         "watch",
			Version:      "1.0.0",
			Description:  "environment monitoring for the patrol cycle",
			Dependencies: []string{"camera", "vision_model"},
			Capabilities: []string{"perception"},
		}),
		logger: logger.With("action", "watch"),
	}
}

func (a *Watch) Initialize(config map[string]any) error {
	a.MarkInitialized()
	return nil
}

func (a *Watch) Execute(ctx action.Context) (action.Result, error) {
	if !a.IsInitialized() {
		return action.Result{}, action.ErrNotInitialized("watch")
	}
	a.logger.Debug("watch: no camera backend configured, reporting no emergency")
	return action.Result{
		Success: true,
		Output: map[string]any{
			"emergency":  false,
			"confidence": 0.0,
		},
	}, nil
}

func (a *Watch) Cleanup() error { return nil }

// Alert logs the emergency it was asked to raise. A real implementation
// might page a human, flash a light, or push a notification.
type Alert struct {
	action.Base
	logger *slog.Logger
}

// NewAlert builds the default "alert" action.
func NewAlert(logger *slog.Logger) *Alert {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alert{
		Base: action.NewBase(action.Metadata{
			Name:         "alert",
			Version:      "1.0.0",
			Description:  "emergency notification",
			Capabilities: []string{"notification"},
		}),
		logger: logger.With("action", "alert"),
	}
}

func (a *Alert) Initialize(config map[string]any) error {
	a.MarkInitialized()
	return nil
}

func (a *Alert) Execute(ctx action.Context) (action.Result, error) {
	if !a.IsInitialized() {
		return action.Result{}, action.ErrNotInitialized("alert")
	}
	a.logger.Warn("alert raised", "data", ctx.InputData)
	return action.Result{Success: true, Output: ctx.InputData}, nil
}

func (a *Alert) Cleanup() error { return nil }
