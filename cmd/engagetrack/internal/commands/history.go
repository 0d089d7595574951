package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/store/postgres"
)

type HistoryCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
	Limit    int           `help:"Number of sessions to list" default:"20"`
}

func (h *HistoryCmd) Run(ctx context.Context, globals *Globals) error {
	if h.Postgres.ConnString == "" {
		return fmt.Errorf("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}

	journal, err := postgres.NewJournal(ctx, h.Postgres.poolConfig())
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	sessions, err := journal.ListSessions(ctx, h.Limit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	printSessions(sessions, time.Now())
	return nil
}

func printSessions(sessions []models.SessionRecord, now time.Time) {
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	fmt.Printf("%-36s %-24s %-20s %-10s %-13s %-8s\n",
		"Session ID", "User", "Started At", "Duration", "Interventions", "Answered")
	fmt.Println(strings.Repeat("─", 116))

	for _, s := range sessions {
		end := now
		if s.EndedAt != nil {
			end = *s.EndedAt
		}
		duration := end.Sub(s.StartedAt).Round(time.Second).String()
		if s.IsOpen() {
			duration += "*"
		}

		user := s.UserID
		if user == "" {
			user = "-"
		}

		fmt.Printf("%-36s %-24s %-20s %-10s %-13d %-8d\n",
			s.SessionID,
			user,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			s.InterventionsRaised,
			s.InterventionsAnswered,
		)
	}
}
