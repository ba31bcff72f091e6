package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const envModelsDir = "NNLITE_MODELS_DIR"

// stdinIsTTY is a seam for tests.
var stdinIsTTY = isTTY

// resolveModelPath picks the model to load: --model if given, otherwise the
// only .mcf file in the models directory, otherwise an interactive choice.
func resolveModelPath(modelFlag, modelsDir string, stdin io.Reader, stderr io.Writer) (string, error) {
	if m := strings.TrimSpace(modelFlag); m != "" {
		return filepath.Clean(m), nil
	}

	dir := strings.TrimSpace(modelsDir)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envModelsDir))
	}
	if dir == "" {
		return "", fmt.Errorf("--model or --models-path is required unless %s is set", envModelsDir)
	}

	models, err := discoverModels(dir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no .mcf models found in %s", dir)
	case 1:
		_, _ = fmt.Fprintf(stderr, "using model %s\n", models[0])
		return models[0], nil
	}
	if !stdinIsTTY() {
		return "", fmt.Errorf("multiple models found in %s but stdin is not interactive; set --model", dir)
	}
	return chooseModel(dir, models, stdin, stderr)
}

// discoverModels lists .mcf files directly inside dir, sorted by path.
func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var models []string
	for _, e := range ents {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".mcf") {
			continue
		}
		models = append(models, filepath.Join(dir, e.Name()))
	}
	slices.Sort(models)
	return models, nil
}

func chooseModel(dir string, models []string, stdin io.Reader, stderr io.Writer) (string, error) {
	_, _ = fmt.Fprintf(stderr, "select a model from %s\n", dir)
	for i, m := range models {
		_, _ = fmt.Fprintf(stderr, "%d. %s\n", i+1, filepath.Base(m))
	}

	r := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "selection [1-%d]: ", len(models))
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		eof := err != nil

		line = strings.TrimSpace(line)
		if line == "" {
			if eof {
				return "", errors.New("no selection provided on stdin; set --model")
			}
			continue
		}
		n, convErr := strconv.Atoi(line)
		if convErr == nil && n >= 1 && n <= len(models) {
			return models[n-1], nil
		}
		_, _ = fmt.Fprintf(stderr, "invalid selection %q\n", line)
		if eof {
			return "", errors.New("invalid selection provided on stdin; set --model")
		}
	}
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
