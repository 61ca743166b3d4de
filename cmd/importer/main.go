package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/flagx"
	"github.com/dmitrijs2005/pressarchive/internal/server"
	"github.com/dmitrijs2005/pressarchive/internal/server/config"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

type importFlags struct {
	dir    string
	pub    int64
	date   string
	number string
	lang   string
	user   string
	wait   bool
}

func parseImportFlags() importFlags {
	args := flagx.FilterArgs(os.Args[1:], []string{"-dir", "-pub", "-date", "-num", "-lang", "-user", "-wait"})

	var f importFlags
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	fs.StringVar(&f.dir, "dir", "", "directory of PDF files")
	fs.Int64Var(&f.pub, "pub", 0, "publication id")
	fs.StringVar(&f.date, "date", "", "issue date (YYYY-MM-DD)")
	fs.StringVar(&f.number, "num", "", "issue number")
	fs.StringVar(&f.lang, "lang", "", "issue language")
	fs.StringVar(&f.user, "user", "importer", "recorded as uploader")
	fs.BoolVar(&f.wait, "wait", true, "process in this process until every file settles (in-process queue only)")
	_ = fs.Parse(args)
	return f
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := parseImportFlags()
	if f.dir == "" || f.pub == 0 || f.date == "" {
		log.Fatalf("usage: importer -dir DIR -pub ID -date YYYY-MM-DD [-num N] [-lang L] [-user U] [-wait=false]")
	}
	date, err := time.Parse(time.DateOnly, f.date)
	if err != nil {
		log.Fatalf("bad -date: %v", err)
	}

	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close(ctx)

	res, err := app.Import(ctx, server.ImportOptions{
		Dir: f.dir,
		Meta: models.IssueMetadata{
			PublicationID: f.pub,
			IssueDate:     date,
			IssueNumber:   f.number,
			Language:      models.Language(f.lang),
		},
		UserID:       f.user,
		Wait:         f.wait,
		PollInterval: time.Second,
	})
	if err != nil {
		log.Printf("import: %v", err)
	}
	if res != nil {
		log.Printf("imported %d, rejected %d, done %d, failed %d", res.Imported, res.Rejected, res.Done, res.Failed)
	}
}
