package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// Confirmer asks the operator before any transaction is broadcast
type Confirmer struct {
	config *config.RuntimeConfig
	out    io.Writer
	prompt func(label string) (bool, error)
}

// NewConfirmer creates a confirmer that prompts on the terminal
func NewConfirmer(cfg *config.RuntimeConfig) *Confirmer {
	return &Confirmer{config: cfg, out: os.Stderr, prompt: promptConfirm}
}

// ConfirmBroadcast lists the steps about to be sent and asks to continue.
// --yes and non-interactive mode confirm without asking.
func (c *Confirmer) ConfirmBroadcast(ctx context.Context, pending []*usecase.StepPreview) (bool, error) {
	if c.config.AssumeYes || c.config.NonInteractive || len(pending) == 0 {
		return true, nil
	}

	network := "the configured network"
	if c.config.Network != nil {
		network = fmt.Sprintf("%s (chain %d)", c.config.Network.Name, c.config.Network.ChainID)
	}

	fmt.Fprintf(c.out, "%d step(s) will be broadcast to %s:\n", len(pending), color.New(color.Bold).Sprint(network))
	for _, p := range pending {
		marker := "  "
		if p.LastRecord != nil {
			marker = color.New(color.FgYellow).Sprint("↻ ")
		}
		fmt.Fprintf(c.out, "%s%d. %s\n", marker, p.Index+1, p.Step.Describe())
	}

	return c.prompt("Broadcast these transactions")
}

// promptConfirm treats anything but an explicit yes as a refusal
func promptConfirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case errors.Is(err, promptui.ErrInterrupt):
		return false, fmt.Errorf("confirmation interrupted: %w", err)
	default:
		return false, fmt.Errorf("confirmation failed: %w", err)
	}
}

// Ensure the adapter implements the interface
var _ usecase.BroadcastConfirmer = (*Confirmer)(nil)
