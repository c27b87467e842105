package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// prepareWorkspace lays out a job's work directory: input/ receives the
// staged submission files in fileset order, output/ starts empty and is
// where the build handler leaves its artifact.
func prepareWorkspace(workDir string, filenames []string) error {
	stagingDir := filepath.Join(workDir, "staging")
	inputDir := filepath.Join(workDir, "input")
	outputDir := filepath.Join(workDir, "output")

	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create input directory: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, name := range filenames {
		src := filepath.Join(stagingDir, name)
		dst := filepath.Join(inputDir, name)

		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to place %s: %w", name, err)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
