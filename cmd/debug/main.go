package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/0xPuncker/panelcron/pkg/calendar"
	"github.com/0xPuncker/panelcron/pkg/utils"
)

func main() {
	schedule := flag.String("schedule", "", "five-field schedule expression to inspect")
	from := flag.String("from", "", "RFC3339 instant to start from (default now)")
	n := flag.Int("n", 10, "number of due minutes to print")
	flag.Parse()

	if *schedule == "" {
		fmt.Fprintln(os.Stderr, "usage: debug -schedule \"*/15 9-17 * * 1-5\" [-from 2024-05-04T10:30:00Z] [-n 10]")
		os.Exit(1)
	}

	start := time.Now()
	if *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			fmt.Printf("Invalid -from value: %v\n", err)
			os.Exit(1)
		}
		start = t
	}

	expr, err := calendar.Parse(*schedule)
	if err != nil {
		fmt.Printf("Schedule error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nSchedule: %s\n", expr)
	fmt.Printf("From: %s\n", start.Format(time.RFC3339))
	fmt.Printf("Due now: %v\n", expr.Matches(start))

	t := start
	for i := 0; i < *n; i++ {
		next, ok := expr.Next(t)
		if !ok {
			fmt.Println("No further matches within four years")
			break
		}
		fmt.Printf("%2d. %s (in %s)\n", i+1, next.Format("Mon 2006-01-02 15:04 MST"), utils.FormatDuration(next.Sub(start)))
		t = next
	}
}
