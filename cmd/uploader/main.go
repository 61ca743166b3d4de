package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/pressarchive/internal/client/config"
	"github.com/dmitrijs2005/pressarchive/internal/client/uploader"
	"github.com/dmitrijs2005/pressarchive/internal/flagx"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
)

type issueFlags struct {
	file   string
	pub    int64
	date   string
	number string
	lang   string
	wait   bool
}

func parseIssueFlags() issueFlags {
	args := flagx.FilterArgs(os.Args[1:], []string{"-f", "-pub", "-date", "-num", "-lang", "-wait"})

	var f issueFlags
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	fs.StringVar(&f.file, "f", "", "PDF file to upload")
	fs.Int64Var(&f.pub, "pub", 0, "publication id")
	fs.StringVar(&f.date, "date", "", "issue date (YYYY-MM-DD)")
	fs.StringVar(&f.number, "num", "", "issue number")
	fs.StringVar(&f.lang, "lang", "", "issue language")
	fs.BoolVar(&f.wait, "wait", false, "wait until processing finishes")
	_ = fs.Parse(args)
	return f
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	f := parseIssueFlags()

	if f.file == "" || f.pub == 0 || f.date == "" {
		log.Fatalf("usage: uploader -f FILE -pub ID -date YYYY-MM-DD [-num N] [-lang L] [-wait]")
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("PRESS_TOKEN")
	}

	logger, closer := logging.New(logging.Options{Level: "info"})
	defer closer.Close()

	c := uploader.New(uploader.Options{
		BaseURL:    cfg.ServerURL,
		Token:      token,
		Parallel:   cfg.Parallel,
		Attempts:   cfg.Attempts,
		RetryDelay: cfg.RetryDelay,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Logger:     logger,
	})

	issue, err := c.Upload(ctx, f.file, uploader.Metadata{
		PublicationID: f.pub,
		IssueDate:     f.date,
		IssueNumber:   f.number,
		Language:      f.lang,
	})
	if err != nil {
		log.Fatalf("upload failed: %v", err)
	}
	fmt.Printf("issue %s created, file %s (%d bytes)\n", issue.ID, issue.FileID, issue.FileSize)

	if !f.wait {
		return
	}

	st, err := c.Wait(ctx, issue.FileID, cfg.PollInterval)
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	if st.Status == "failed" {
		log.Fatalf("processing failed: %s", st.ErrorMessage)
	}
	fmt.Printf("file %s is %s\n", st.ID, st.Status)
}
