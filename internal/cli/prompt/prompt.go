// Package prompt wraps promptui for the interactive configuration wizard.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user gave up on the prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Confirm asks a yes/no question. An empty answer takes defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	// promptui treats an empty answer as the default, and any answer
	// other than y as ErrAbort.
	if defaultYes {
		p.Default = "y"
	}

	_, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Input prompts for text with a default.
func Input(label, defaultValue string, validate promptui.ValidateFunc) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: validate,
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputInt prompts for an integer in [minVal, maxVal].
func InputInt(label string, defaultValue, minVal, maxVal int) (int, error) {
	result, err := Input(label, strconv.Itoa(defaultValue), IntInRange(minVal, maxVal))
	if err != nil {
		return 0, err
	}
	value, _ := strconv.Atoi(result)
	return value, nil
}

// Select prompts for one of items and returns it.
func Select(label string, items []string) (string, error) {
	p := promptui.Select{
		Label: label,
		Items: items,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "* {{ . | green }}",
		},
	}
	_, result, err := p.Run()
	return result, wrapError(err)
}

// Required rejects empty input.
func Required(input string) error {
	if input == "" {
		return errors.New("value is required")
	}
	return nil
}

// IntInRange returns a validator for integers in [minVal, maxVal].
func IntInRange(minVal, maxVal int) promptui.ValidateFunc {
	return func(input string) error {
		n, err := strconv.Atoi(input)
		if err != nil {
			return errors.New("must be a valid integer")
		}
		if n < minVal || n > maxVal {
			return fmt.Errorf("must be between %d and %d", minVal, maxVal)
		}
		return nil
	}
}

// ExistingFile rejects paths that do not name a readable regular file.
func ExistingFile(input string) error {
	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("cannot read %s", input)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", input)
	}
	return nil
}
