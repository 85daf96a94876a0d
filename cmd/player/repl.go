package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jason-s-yu/drawguess/internal/game"
	"github.com/jason-s-yu/drawguess/internal/models"
)

const help = `commands:
  start              start the game (host)
  select <word>      choose a word (drawer)
  skip               skip the current selection (drawer)
  line x1 y1 x2 y2   draw a straight stroke (drawer)
  clear              clear the canvas (drawer)
  guess <text>       submit a guess
  rate <1-5>         rate the current drawing
  end                end the round early (host)
  next               continue to the next round (host)
  finish             end the game (host)
  state              print the current state
  quit               leave the room`

var errQuit = errors.New("quit")

// runREPL reads one command per line until quit, EOF or ctx is cancelled.
func runREPL(ctx context.Context, s *game.Session, in io.Reader, out io.Writer) {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	fmt.Fprintln(out, help)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			err := execute(ctx, s, line, out)
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func execute(ctx context.Context, s *game.Session, line string, out io.Writer) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "start":
		return s.StartGame(ctx)
	case "select":
		return s.SelectWord(ctx, arg)
	case "skip":
		return s.SkipWord(ctx)
	case "line":
		return drawLine(s, arg)
	case "clear":
		r := s.Drawing()
		if r == nil {
			return game.ErrNotInRoom
		}
		r.Clear(ctx)
		return nil
	case "guess":
		g, err := s.SubmitGuess(ctx, arg)
		if err != nil {
			return err
		}
		if g.IsCorrect {
			fmt.Fprintf(out, "correct! +%d\n", g.ScoreEarned)
		}
		return nil
	case "rate":
		stars, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("rating must be a number: %w", err)
		}
		return s.RateDrawing(ctx, stars)
	case "end":
		return s.EndRound(ctx)
	case "next":
		return s.ContinueToNextRound(ctx)
	case "finish":
		return s.EndGame(ctx)
	case "state":
		printState(out, s.Snapshot())
		return nil
	case "help":
		fmt.Fprintln(out, help)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func drawLine(s *game.Session, arg string) error {
	fields := strings.Fields(arg)
	if len(fields) != 4 {
		return errors.New("usage: line x1 y1 x2 y2")
	}
	var v [4]float32
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return fmt.Errorf("bad coordinate %q: %w", f, err)
		}
		v[i] = float32(n)
	}
	r := s.Drawing()
	if r == nil {
		return game.ErrNotInRoom
	}
	r.PointerDown(models.Point{X: v[0], Y: v[1]})
	r.PointerMove(models.Point{X: v[2], Y: v[3]})
	r.PointerUp()
	return nil
}

func printState(out io.Writer, snap game.Snapshot) {
	fmt.Fprintf(out, "room %s  %s  round %d/%d  %s\n", snap.RoomCode, snap.Status, snap.Round, snap.TotalRounds, snap.Phase)
	if snap.Remaining > 0 {
		fmt.Fprintf(out, "  %ds left\n", snap.Remaining)
	}
	if len(snap.Options) > 0 {
		fmt.Fprintf(out, "  options: %s\n", strings.Join(snap.Options, ", "))
	}
	if snap.Word != "" {
		fmt.Fprintf(out, "  word: %s\n", snap.Word)
	}
	for _, r := range snap.Rankings {
		marker := " "
		if r.UserID == snap.DrawerID {
			marker = "*"
		}
		fmt.Fprintf(out, "  %d.%s %-16s %5d\n", r.Rank, marker, r.Name, r.Score)
	}
	if snap.Winner != nil {
		fmt.Fprintf(out, "  winner: %s with %d\n", snap.Winner.Name, snap.Winner.Score)
	}
	for _, g := range snap.Guesses {
		fmt.Fprintf(out, "  > %s\n", g.Text)
	}
}
