package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"litshelf/internal/app"
	"litshelf/internal/util"
	"litshelf/pkg/conversation"
	"litshelf/pkg/domain"
	"litshelf/pkg/store"
)

const (
	owner     int64 = 1
	author    int64 = 2
	moderator int64 = 3
	reader    int64 = 4
)

type fakeFiles map[string][]byte

func (f fakeFiles) Download(_ context.Context, fileID string, _ int64) ([]byte, error) {
	data, ok := f[fileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newRouter(t *testing.T, mutate func(*Config)) *Router {
	t.Helper()
	a, err := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Conversations: conversation.NewMemoryStore(0, 0),
		Logger:        util.DiscardLogger(),
		MaxWorkLength: 200,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: a, Logger: util.DiscardLogger(), Files: fakeFiles{"f1": []byte("File body")}}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	ctx := context.Background()
	expect(t, r.Handle(ctx, Update{UserID: owner, Username: "boss", Text: "/init_owner"}), "You are now the bot owner")
	expect(t, r.Handle(ctx, Update{UserID: owner, Username: "boss", Text: "/setrole 2 author"}), "Role Author set")
	expect(t, r.Handle(ctx, Update{UserID: owner, Username: "boss", Text: "/setrole 3 moderator"}), "Role Moderator set")
	return r
}

func expect(t *testing.T, replies []Reply, want string) {
	t.Helper()
	for _, rep := range replies {
		if strings.Contains(rep.Text, want) {
			return
		}
	}
	t.Fatalf("no reply contains %q; got %+v", want, replies)
}

func buttonData(replies []Reply) []string {
	var out []string
	for _, rep := range replies {
		for _, row := range rep.Buttons {
			for _, b := range row {
				out = append(out, b.Data)
			}
		}
	}
	return out
}

func publish(t *testing.T, r *Router, title, body string) {
	t.Helper()
	ctx := context.Background()
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/submit_work"}), "Send the title")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: title}), "Now send the text")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: body}), "sent for moderation (ID: ")
	pending := r.Handle(ctx, Update{UserID: moderator, Text: "/review"})
	data := buttonData(pending)
	if len(data) != 2 || !strings.HasPrefix(data[0], "approve:") || !strings.HasPrefix(data[1], "reject:") {
		t.Fatalf("review buttons = %v", data)
	}
	expect(t, r.Handle(ctx, Update{UserID: moderator, Callback: data[0]}), "approved")
}

func TestStartShowsRoleCommands(t *testing.T) {
	r := newRouter(t, nil)
	ctx := context.Background()
	replies := r.Handle(ctx, Update{UserID: reader, FirstName: "Ann", Text: "/start"})
	expect(t, replies, "Hello, Ann!")
	expect(t, replies, "Your role: Reader")
	if strings.Contains(replies[0].Text, "/submit_work") {
		t.Fatalf("reader should not see /submit_work: %s", replies[0].Text)
	}
	expect(t, r.Handle(ctx, Update{UserID: owner, Username: "boss", Text: "/start@litshelf_bot"}), "/setrole <id|@username> <role>")
}

func TestCommandsFor(t *testing.T) {
	names := func(role domain.Role) string {
		var out []string
		for _, c := range CommandsFor(role) {
			out = append(out, c.Name)
		}
		return strings.Join(out, ",")
	}
	tests := []struct {
		role domain.Role
		has  []string
		not  []string
	}{
		{domain.RoleReader, []string{"read_work", "cancel"}, []string{"submit_work", "review", "users"}},
		{domain.RoleAuthor, []string{"submit_work"}, []string{"review", "users"}},
		{domain.RoleModerator, []string{"review", "delete_work"}, []string{"submit_work", "setrole"}},
		{domain.RoleOwner, []string{"submit_work", "review", "users", "setrole"}, nil},
		{domain.RoleBanned, []string{"start"}, []string{"works_list"}},
	}
	for _, tt := range tests {
		got := "," + names(tt.role) + ","
		for _, n := range tt.has {
			if !strings.Contains(got, ","+n+",") {
				t.Fatalf("%s: missing %s in %s", tt.role, n, got)
			}
		}
		for _, n := range tt.not {
			if strings.Contains(got, ","+n+",") {
				t.Fatalf("%s: unexpected %s in %s", tt.role, n, got)
			}
		}
	}
}

func TestSubmissionAndRatingFlow(t *testing.T) {
	r := newRouter(t, nil)
	ctx := context.Background()
	publish(t, r, "Sea", "The sea was calm.")

	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/works_list"}), "ID: 1 - Sea (no ratings)")
	read := r.Handle(ctx, Update{UserID: reader, Text: "/read_work 1"})
	expect(t, read, "The sea was calm.")
	if data := buttonData(read); len(data) != 2 || data[0] != "rate:1" || data[1] != "reviews:1" {
		t.Fatalf("read buttons = %v", data)
	}

	stars := r.Handle(ctx, Update{UserID: reader, Callback: "rate:1"})
	if data := buttonData(stars); len(data) != 5 || data[4] != "stars:5:1" {
		t.Fatalf("star buttons = %v", data)
	}
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "nice"}), "buttons above")
	expect(t, r.Handle(ctx, Update{UserID: reader, Callback: "stars:4:1"}), "Write your review")
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "Lovely"}), "4.00⭐ (1 ratings)")

	again := r.Handle(ctx, Update{UserID: reader, Callback: "rate:1"})
	expect(t, again, "already rated")
	expect(t, again, "Lovely")

	expect(t, r.Handle(ctx, Update{UserID: moderator, Text: "/rate_work 1"}), "Rate \"Sea\"")
	expect(t, r.Handle(ctx, Update{UserID: moderator, Callback: "stars:5:1"}), "Write your review")
	expect(t, r.Handle(ctx, Update{UserID: moderator, Text: "/skip"}), "4.50⭐ (2 ratings)")

	read = r.Handle(ctx, Update{UserID: reader, Text: "/read_work 1"})
	if data := buttonData(read); len(data) != 1 || data[0] != "reviews:1" {
		t.Fatalf("rated reader buttons = %v", data)
	}
}

func TestUsageErrorsKeepState(t *testing.T) {
	r := newRouter(t, nil)
	ctx := context.Background()
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/submit_work"}), "Send the title")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/read_work abc"}), "Usage: /read_work")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/delete_work"}), "Usage: /delete_work")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "Still here"}), "Now send the text")
}

func TestOwnerContactFollowsLatestHandle(t *testing.T) {
	r := newRouter(t, nil)
	ctx := context.Background()
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/submit_work"}), "Ask the bot owner (@boss)")
	expect(t, r.Handle(ctx, Update{UserID: owner, Username: "chief", Text: "/start"}), "Your role: Owner")
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/submit_work"}), "Ask the bot owner (@chief)")
}

func TestErrorsAreMapped(t *testing.T) {
	r := newRouter(t, nil)
	ctx := context.Background()
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/setrole 555 author"}), "requires the owner role")
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/submit_work"}), "(@boss)")
	expect(t, r.Handle(ctx, Update{UserID: moderator, Text: "/delete_work 9999"}), "Not found.")
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "hello"}), "start the action again")
	expect(t, r.Handle(ctx, Update{UserID: reader, Callback: "approve:x"}), "Unknown action.")
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/init_owner"}), "already assigned")
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/bogus"}), "Unknown command")

	if got := ErrorText(errors.New("pq: connection refused")); got != "Something went wrong, please try again." {
		t.Fatalf("generic error text = %q", got)
	}
}

func TestLongWorkIsChunked(t *testing.T) {
	r := newRouter(t, func(cfg *Config) { cfg.MessageLimit = 80 })
	publish(t, r, "Long", strings.Repeat("x", 190))
	replies := r.Handle(context.Background(), Update{UserID: reader, Text: "/read_work 1"})
	if len(replies) < 3 {
		t.Fatalf("replies = %d, want at least 3", len(replies))
	}
	for i, rep := range replies {
		if util.RuneLen(rep.Text) > 80 {
			t.Fatalf("chunk %d has %d characters", i, util.RuneLen(rep.Text))
		}
		if i < len(replies)-1 && len(rep.Buttons) != 0 {
			t.Fatalf("buttons should be on the last chunk only")
		}
	}
	if len(replies[len(replies)-1].Buttons) == 0 {
		t.Fatalf("last chunk should carry the buttons")
	}
}

func TestDocumentSubmission(t *testing.T) {
	r := newRouter(t, func(cfg *Config) { cfg.MaxUploadBytes = 64 })
	ctx := context.Background()
	doc := &Document{FileID: "f1", FileName: "story.txt", Size: 9}

	expect(t, r.Handle(ctx, Update{UserID: author, Document: doc}), "no submission is waiting for a file")

	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/submit_work"}), "Send the title")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "Filed"}), "Now send the text")
	expect(t, r.Handle(ctx, Update{UserID: author, Document: &Document{FileID: "f2", FileName: "story.docx", Size: 9}}), ".txt files")
	expect(t, r.Handle(ctx, Update{UserID: author, Document: &Document{FileID: "f3", FileName: "big.txt", Size: 65}}), "too large")
	expect(t, r.Handle(ctx, Update{UserID: author, Document: doc}), "\"Filed\" was sent for moderation")
}

func TestCommandRateLimit(t *testing.T) {
	r := newRouter(t, nil)
	r.limiter = denyAll{}
	ctx := context.Background()
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/works_list"}), "Too many commands")
	// free text is not throttled
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "hi"}), "start the action again")
}

func TestBannedUser(t *testing.T) {
	r := newRouter(t, nil)
	ctx := context.Background()
	expect(t, r.Handle(ctx, Update{UserID: owner, Username: "boss", Text: "/setrole 4 banned"}), "Role Banned set")
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/start"}), "You are banned")
	expect(t, r.Handle(ctx, Update{UserID: reader, Text: "/works_list"}), "you are banned")
}

func TestRejectAndCancel(t *testing.T) {
	r := newRouter(t, nil)
	ctx := context.Background()
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/submit_work"}), "Send the title")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/cancel"}), "Cancelled.")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/cancel"}), "Nothing to cancel.")

	expect(t, r.Handle(ctx, Update{UserID: author, Text: "/submit_work"}), "Send the title")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "Draft"}), "Now send the text")
	expect(t, r.Handle(ctx, Update{UserID: author, Text: "body"}), "sent for moderation")
	expect(t, r.Handle(ctx, Update{UserID: moderator, Callback: "reject:1"}), "rejected")
	expect(t, r.Handle(ctx, Update{UserID: moderator, Callback: "reject:1"}), "Not found.")
	expect(t, r.Handle(ctx, Update{UserID: moderator, Text: "/review"}), "No works awaiting review.")
	expect(t, r.Handle(ctx, Update{UserID: owner, Username: "boss", Text: "/users"}), "@boss")
}
