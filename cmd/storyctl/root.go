package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
)

// opener opens the store at path. Tests swap in an in-memory store.
type opener func(path string) (storage.Storage, error)

type cli struct {
	dbPath string
	format string
	open   opener
}

func newRootCmd(defaultDB string, open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "storyctl",
		Short:         "Administer Epic Saga stories",
		Long:          "storyctl lists, restarts and exports stories and prints karma leaderboards, working on the database directly.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&c.dbPath, "db", "d", defaultDB, "Database path (default: $DATABASE_PATH or the config file)")
	root.PersistentFlags().StringVarP(&c.format, "format", "f", "text", "Output format: text or json")

	root.AddCommand(c.storiesCmd(), c.restartCmd(), c.exportCmd(), c.leaderboardCmd())
	return root
}

// withStore opens the store for one command and always closes it.
func (c *cli) withStore(fn func(s storage.Storage) error) error {
	s, err := c.open(c.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		_ = s.Close()
	}()
	return fn(s)
}

func (c *cli) printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func parseStoryID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid story id %q", arg)
	}
	return id, nil
}
