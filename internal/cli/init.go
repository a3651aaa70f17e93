package cli

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/chazu/qudag/internal/project"
)

//go:embed templates/main.go.tmpl
var templateFS embed.FS

var mainTemplate = template.Must(template.ParseFS(templateFS, "templates/main.go.tmpl"))

func newInitCommand(app *App) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Scaffold a new qudag project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if dir == "" {
				dir = name
			}

			files, err := scaffold(name)
			if err != nil {
				return err
			}
			if err := writeProject(dir, files); err != nil {
				return err
			}

			logr.FromContextOrDiscard(cmd.Context()).Info("Created project", "name", name, "dir", dir)
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s in %s\n\nNext steps:\n  cd %s\n  qudag dev\n", name, dir, dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "target directory (default: the project name)")
	return cmd
}

// scaffold renders the project files keyed by relative path.
func scaffold(name string) (map[string][]byte, error) {
	settings, err := project.Render(project.Default(name))
	if err != nil {
		return nil, fmt.Errorf("invalid project name %q: %w", name, err)
	}

	var mainGo bytes.Buffer
	if err := mainTemplate.Execute(&mainGo, struct{ Name string }{Name: name}); err != nil {
		return nil, fmt.Errorf("failed to render main.go: %w", err)
	}

	return map[string][]byte{
		project.FileName: settings,
		"main.go":        mainGo.Bytes(),
	}, nil
}

func writeProject(dir string, files map[string][]byte) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", dir, err)
	case len(entries) > 0:
		return fmt.Errorf("directory %s is not empty", dir)
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}
