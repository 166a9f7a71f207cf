package tagger

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
)

// TextPlaceholder is replaced by the article text in every command argument.
const TextPlaceholder = "{text}"

// CommandAnalyzer runs an external program per text and parses the JSON
// object it prints. The default program is a hosted-model CLI.
type CommandAnalyzer struct {
	argv  []string
	token string
}

// NewCommandAnalyzer returns an analyzer running argv. token, when set, is
// exported to the child as GH_TOKEN.
func NewCommandAnalyzer(argv []string, token string) (*CommandAnalyzer, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("tagger command is empty")
	}
	return &CommandAnalyzer{argv: append([]string(nil), argv...), token: token}, nil
}

func (a *CommandAnalyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	args := make([]string, len(a.argv)-1)
	for i, arg := range a.argv[1:] {
		args[i] = strings.ReplaceAll(arg, TextPlaceholder, text)
	}
	cmd := exec.CommandContext(ctx, a.argv[0], args...)
	if a.token != "" {
		cmd.Env = append(os.Environ(), "GH_TOKEN="+a.token)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return Analysis{}, fmt.Errorf("%w: %s: %v", apperrors.ErrAnalyzerNoResult, a.argv[0], err)
		}
		return Analysis{}, fmt.Errorf("%w: %s: %v: %s", apperrors.ErrAnalyzerNoResult, a.argv[0], err, msg)
	}
	return ParseOutput(stdout.String())
}
