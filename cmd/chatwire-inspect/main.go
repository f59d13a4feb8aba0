package main

// Offline inspection tool for a chatwire data directory. It opens the
// pebble store directly and holds its lock, so point it at a stopped
// server's --db path.

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"chatwire/pkg/logger"
	"chatwire/pkg/models"
	"chatwire/pkg/store"
)

func main() {
	var (
		dataDir = flag.String("db", "./.database", "data directory (the server's --db value)")
		sessID  = flag.String("session", "", "dump one session with its recent messages")
		limit   = flag.Int("limit", 20, "messages to print with -session")
	)
	flag.Parse()

	logger.Init()
	path := filepath.Join(*dataDir, "store")
	if err := store.Open(path); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v (server still running?)\n", path, err)
		os.Exit(1)
	}
	defer store.Close()

	var err error
	if *sessID != "" {
		err = dumpSession(*sessID, *limit)
	} else {
		err = listSessions()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listSessions() error {
	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActiveTS > sessions[j].LastActiveTS
	})
	for _, s := range sessions {
		agent := s.AgentID
		if agent == "" {
			agent = "-"
		}
		fmt.Printf("%s  %-7s  customer=%s  agent=%s  msgs=%d  last=%s\n",
			s.ID, s.Status, s.CustomerID, agent, s.LastSeq,
			humanize.Time(time.Unix(0, s.LastActiveTS)))
	}
	fmt.Printf("%d sessions\n", len(sessions))
	return nil
}

func dumpSession(id string, limit int) error {
	s, err := store.GetSession(id)
	if err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("no session %q", id)
		}
		return err
	}

	fmt.Printf("session %s (%s)\n", s.ID, s.Status)
	if s.Subject != "" {
		fmt.Printf("  subject:  %s\n", s.Subject)
	}
	fmt.Printf("  customer: %s %s\n", s.CustomerID, paren(s.CustomerName))
	if s.AgentID != "" {
		fmt.Printf("  agent:    %s %s\n", s.AgentID, paren(s.AgentName))
	}
	fmt.Printf("  created:  %s\n", time.Unix(0, s.CreatedTS).Format(time.RFC3339))
	if s.ClosedTS > 0 {
		fmt.Printf("  closed:   %s\n", time.Unix(0, s.ClosedTS).Format(time.RFC3339))
	}

	// one read cursor per user, stored under the session's cursor keys
	keys, err := store.ListKeys("session:" + id + ":cursor:")
	if err == nil {
		for _, k := range keys {
			raw, gerr := store.GetKey(k)
			if gerr != nil {
				continue
			}
			var c models.ReadCursor
			if json.Unmarshal([]byte(raw), &c) == nil {
				fmt.Printf("  read:     %s up to seq %d\n", c.UserID, c.Seq)
			}
		}
	}

	msgs, err := store.ListRecentMessages(id, limit)
	if err != nil {
		return err
	}
	fmt.Printf("  messages: %d total, showing %d\n\n", s.LastSeq, len(msgs))
	for _, m := range msgs {
		line := m.Content
		if m.Type != models.TypeText {
			line = "[" + m.Type + "] " + line
		}
		if n := len(m.Attachments); n > 0 {
			line = fmt.Sprintf("%s (+%d attachments)", line, n)
		}
		fmt.Printf("#%-4d %s  %s: %s\n",
			m.Seq, time.Unix(0, m.TS).Format("15:04:05"), sender(m), truncate(line, 100))
	}
	return nil
}

func sender(m models.Message) string {
	if m.Type == models.TypeSystem {
		return "system"
	}
	if m.SenderName != "" {
		return fmt.Sprintf("%s/%s", m.SenderRole, m.SenderName)
	}
	return fmt.Sprintf("%s/%s", m.SenderRole, m.SenderID)
}

func paren(name string) string {
	if name == "" {
		return ""
	}
	return "(" + name + ")"
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
