package main

import (
	"github.com/AlecAivazis/survey/v2"

	"rpfix/pkg/usecase"
)

// askPath prompts for a path on the terminal. Tests replace it.
var askPath = func(message, def string) (string, error) {
	var answer string
	prompt := &survey.Input{Message: message, Default: def}
	if err := survey.AskOne(prompt, &answer, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return usecase.CleanPath(answer), nil
}
