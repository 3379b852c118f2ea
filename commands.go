package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show your reading queue",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		queue, err := a.co.LoadQueueAndPrefetch(ctx)
		if err != nil {
			return err
		}
		if len(queue.Items) == 0 {
			fmt.Println("Your queue is empty.")
			return nil
		}

		for _, item := range queue.Items {
			title := item.Title
			if title == "" {
				title = item.URL
			}
			marker := " "
			if item.FurthestPercent() >= 100 {
				marker = keyword("✓")
			}
			fmt.Printf("%s %6d  %3d%%  %s\n", marker, item.ItemID, item.ProgressPercent(), title)
		}
		return nil
	},
}

var playCmd = &cobra.Command{
	Use:   "play [ITEM-ID]",
	Short: "Read the queue aloud, resuming where you left off",
	Long: paragraph(fmt.Sprintf(
		"\nStart %s from the given item, or resume the saved session. Progress is synced continuously and queued locally when the network is down.",
		keyword("playback"),
	)),
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		itemID, err := resolveStartItem(ctx, a, args)
		if err != nil {
			return err
		}

		if _, err := a.co.LoadItem(ctx, itemID, true); err != nil {
			return err
		}
		a.sched.RequestFlush()

		return playLoop(ctx, a)
	},
}

// resolveStartItem picks the item playback starts from: an explicit
// argument restarts the session at that item, otherwise the saved
// session resumes, otherwise a fresh session starts at the head of the
// queue.
func resolveStartItem(ctx context.Context, a *app, args []string) (int, error) {
	var explicit int
	if len(args) == 1 {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("invalid item id %q", args[0])
		}
		explicit = id
	}

	if explicit == 0 {
		loaded, err := a.sessions.Load(ctx)
		if err != nil {
			return 0, err
		}
		if loaded.WasCorrupt {
			fmt.Println(warning("Saved session was unreadable and has been reset."))
		}
		if current := loaded.Session.CurrentItem(); current != nil {
			return current.ItemID, nil
		}
	}

	queue, err := a.co.LoadQueueAndPrefetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(queue.Items) == 0 {
		return 0, errors.New("your queue is empty")
	}
	start := explicit
	if start == 0 {
		start = queue.Items[0].ItemID
	}
	sess, err := a.sessions.Start(ctx, queue.Items, start)
	if err != nil {
		return 0, err
	}
	return sess.CurrentItem().ItemID, nil
}

func playLoop(ctx context.Context, a *app) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			// A fresh context: the signal context is already dead.
			return a.co.Stop(context.Background())
		case <-ticker.C:
			if !a.co.Playing() {
				if err := a.co.LastError(); err != nil {
					fmt.Println()
					return err
				}
				done, err := advanceOrFinish(ctx, a)
				if err != nil {
					fmt.Println()
					return err
				}
				if done {
					fmt.Println("\nReached the end of the queue.")
					return nil
				}
			}
			printStatus(a)
		}
	}
}

// advanceOrFinish moves to the next queue item after the current one
// finished. It reports done when the cursor is already on the last
// item.
func advanceOrFinish(ctx context.Context, a *app) (bool, error) {
	loaded, err := a.sessions.Load(ctx)
	if err != nil {
		return false, err
	}
	sess := loaded.Session
	if sess == nil || sess.CurrentIndex >= len(sess.Items)-1 {
		return true, nil
	}
	if _, err := a.co.NextItem(ctx, true); err != nil {
		return false, err
	}
	return false, nil
}

func printStatus(a *app) {
	pos := a.co.Position()
	chunks := a.co.Chunks()
	line := fmt.Sprintf("item %d · chunk %d/%d · %d%%",
		a.co.CurrentItemID(), pos.ChunkIndex+1, len(chunks), a.co.Percent())
	if a.co.Offline() {
		line += " · " + warning("offline")
	}
	fmt.Printf("\r%s", subtle(line))
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Move the session to the next queue item",
	Args:  cobra.NoArgs,
	RunE:  func(*cobra.Command, []string) error { return stepSession(+1) },
}

var prevCmd = &cobra.Command{
	Use:   "prev",
	Short: "Move the session to the previous queue item",
	Args:  cobra.NoArgs,
	RunE:  func(*cobra.Command, []string) error { return stepSession(-1) },
}

func stepSession(direction int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	step := a.sessions.Next
	if direction < 0 {
		step = a.sessions.Prev
	}
	sess, err := step(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return errors.New("no saved session; run `mimeo play` first")
	}
	current := sess.CurrentItem()
	fmt.Printf("Now at item %d", current.ItemID)
	if current.Title != "" {
		fmt.Printf(": %s", current.Title)
	}
	fmt.Println()
	return nil
}

var doneCmd = &cobra.Command{
	Use:   "done ITEM-ID",
	Short: "Mark an item as finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		itemID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		queued, err := a.co.PostProgress(ctx, itemID, 100)
		if err != nil {
			return err
		}
		if queued {
			fmt.Println(warning("Offline; completion queued for the next flush."))
			result, err := a.co.FlushPending(ctx)
			if err == nil && result.Flushed > 0 {
				fmt.Printf("Delivered %d queued update(s) after all.\n", result.Flushed)
			}
			return nil
		}
		fmt.Printf("Item %d marked as finished.\n", itemID)
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver progress updates queued while offline",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		result, err := a.co.FlushPending(ctx)
		if err != nil {
			return err
		}
		switch {
		case result.Flushed == 0 && result.Remaining == 0:
			fmt.Println("Nothing to flush.")
		case result.Remaining > 0:
			fmt.Printf("Delivered %d update(s); %d still pending.\n", result.Flushed, result.Remaining)
		default:
			fmt.Printf("Delivered %d update(s).\n", result.Flushed)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved session and sync state",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		loaded, err := a.sessions.Load(ctx)
		if err != nil {
			return err
		}
		if loaded.WasCorrupt {
			fmt.Println(warning("Saved session was unreadable and has been reset."))
		}
		if loaded.Session == nil {
			fmt.Println("No saved session.")
		} else {
			current := loaded.Session.CurrentItem()
			fmt.Printf("Session: %d item(s), cursor at %d/%d\n",
				len(loaded.Session.Items), loaded.Session.CurrentIndex+1, len(loaded.Session.Items))
			if current != nil {
				title := current.Title
				if title == "" {
					title = current.URL
				}
				fmt.Printf("Current: %d  %s\n", current.ItemID, title)
				fmt.Printf("Position: chunk %d, offset %d (%d%% read)\n",
					current.ChunkIndex, current.OffsetChars, current.LastReadPercent)
			}
		}

		pendingCount, err := a.pending.CountPending(ctx)
		if err != nil {
			return err
		}
		if pendingCount > 0 {
			fmt.Printf("%s %d progress update(s) waiting to sync; run `mimeo flush`.\n",
				warning("Pending:"), pendingCount)
		} else {
			fmt.Println("All progress synced.")
		}
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the offline text cache",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		stats, err := a.db.CachedStats(ctx)
		if err != nil {
			return err
		}
		if stats.Items == 0 {
			fmt.Println("Cache is empty.")
			return nil
		}
		fmt.Printf("%d item(s), %s on disk (%s of text)\n",
			stats.Items,
			humanize.IBytes(uint64(stats.CompressedBytes)),
			humanize.Comma(stats.OriginalChars)+" chars")
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached item text",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if err := a.db.ClearCachedItems(ctx); err != nil {
			return err
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}
