package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ent0n29/intervue/internal/app"
	"github.com/ent0n29/intervue/internal/config"
	"github.com/ent0n29/intervue/internal/observability"
	"github.com/ent0n29/intervue/internal/tui"
)

func main() {
	var opts app.ClientOptions
	interviewID := flag.String("interview", "", "resume an existing interview by id (overrides INTERVUE_INTERVIEW_ID)")
	flag.BoolVar(&opts.Offline, "offline", false, "run the interview service in-process instead of dialing INTERVUE_API_URL")
	flag.StringVar(&opts.Role, "role", "", "role being interviewed for")
	flag.StringVar(&opts.Title, "title", "", "interview title (defaults to the role)")
	flag.StringVar(&opts.Difficulty, "difficulty", "", "easy, medium or hard")
	flag.StringVar(&opts.Notes, "notes", "", "free-form notes for the interviewer")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *interviewID != "" {
		cfg.Client.InterviewID = *interviewID
	}

	// The terminal belongs to the TUI; logs go to a file.
	logFile, err := os.OpenFile(cfg.Client.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := observability.NewLogger(logFile, cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := app.BuildClient(ctx, cfg, opts, logger)
	cancel()
	if err != nil {
		logger.Error("client startup failed", "error", err)
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	logger.Info("interview ready",
		"interview_id", client.Interview.ID,
		"api", client.APIURL,
		"mic", client.Devices.Mic,
		"speaker", client.Devices.Speaker,
	)

	model := tui.New(client.Session, tui.Info{
		Title:   client.Interview.Title,
		Role:    client.Interview.Role,
		Mic:     client.Devices.Mic,
		Speaker: client.Devices.Speaker,
	}).WithEndTimeout(cfg.Client.EndCallGrace + cfg.Client.PersistTimeout + 10*time.Second)

	_, runErr := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err := client.Cleanup(); err != nil {
		logger.Warn("cleanup failed", "error", err)
	}
	if runErr != nil {
		logger.Error("tui exited with error", "error", runErr)
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
	fmt.Printf("Interview %s saved.\n", client.Interview.ID)
}
