package cli

import (
	"fmt"

	"github.com/Krish-357/Academic-Advisor/internal/config"
	"github.com/Krish-357/Academic-Advisor/internal/daemon"
	"github.com/Krish-357/Academic-Advisor/pkg/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	showUser   string
	forgetUser string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage stored memories",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List users, or one user's memories oldest first",
	RunE:  runMemoryShow,
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete every memory stored for a user",
	RunE:  runMemoryForget,
}

var memorySnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a timestamped copy of the memory document now",
	RunE:  runMemorySnapshot,
}

func init() {
	memoryShowCmd.Flags().StringVarP(&showUser, "user", "u", "", "user id; omit to list users")
	memoryForgetCmd.Flags().StringVarP(&forgetUser, "user", "u", "", "user id (required)")
	_ = memoryForgetCmd.MarkFlagRequired("user")

	memoryCmd.AddCommand(memoryShowCmd, memoryForgetCmd, memorySnapshotCmd)
	rootCmd.AddCommand(memoryCmd)
}

func openStore(cmd *cobra.Command) (*config.Config, *memory.Store, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := daemon.OpenStore(cmd.Context(), cfg, log.GetZerolog())
	if err != nil {
		_ = log.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = store.Close()
		_ = log.Close()
	}
	return cfg, store, cleanup, nil
}

func runMemoryShow(cmd *cobra.Command, args []string) error {
	_, store, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()

	if showUser == "" {
		users := store.Users()
		if len(users) == 0 {
			fmt.Fprintln(out, "No memories stored")
			return nil
		}
		for _, user := range users {
			fmt.Fprintf(out, "%s\t%d\n", user, len(store.Log(user)))
		}
		return nil
	}

	entries := store.Log(showUser)
	if len(entries) == 0 {
		fmt.Fprintf(out, "No memories stored for %s\n", showUser)
		return nil
	}
	for i, entry := range entries {
		fmt.Fprintf(out, "%d. %s\n", i+1, entry)
	}
	return nil
}

func runMemoryForget(cmd *cobra.Command, args []string) error {
	cfg, store, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	removed := len(store.Log(forgetUser))
	if err := store.Forget(cmd.Context(), forgetUser); err != nil {
		return fmt.Errorf("failed to forget %s: %w", forgetUser, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Removed %d memories for %s\n", removed, forgetUser)
	if isRunning(getPIDFilePath(cfg)) && !cfg.Memory.Watch {
		fmt.Fprintln(out, "The service is running without memory.watch; restart it to drop its cached copy")
	}
	return nil
}

func runMemorySnapshot(cmd *cobra.Command, args []string) error {
	cfg, store, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := memory.NewSnapshotter(memory.SnapshotConfig{
		Source: store,
		Dir:    cfg.Memory.Snapshot.Dir,
		Keep:   cfg.Memory.Snapshot.Keep,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return err
	}

	path, err := snap.SnapshotNow(cmd.Context())
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", path)
	return nil
}
