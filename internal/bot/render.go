package bot

import (
	"context"
	"fmt"
	"strings"

	"litshelf/pkg/domain"
)

func (r *Router) start(ctx context.Context, u Update) []Reply {
	user, err := r.app.User(ctx, u.UserID)
	if err != nil {
		return r.fail(err)
	}
	if user.Role == domain.RoleBanned {
		return r.say("⛔️ You are banned.\nContact the bot owner to be unblocked.")
	}
	var b strings.Builder
	name := strings.TrimSpace(u.FirstName)
	if name == "" {
		name = user.Mention()
	}
	fmt.Fprintf(&b, "👋 Hello, %s!\n\n", name)
	b.WriteString("Welcome to the bot for publishing and reading literary works.\n")
	fmt.Fprintf(&b, "Your role: %s\n\n📝 Your commands:\n", user.Role.Title())
	for _, c := range CommandsFor(user.Role) {
		b.WriteString("/" + c.Name)
		if c.Usage != "" {
			b.WriteString(" " + c.Usage)
		}
		b.WriteString(" - " + c.Description + "\n")
	}
	if user.Role == domain.RoleOwner {
		b.WriteString("\n📌 Roles:\n" +
			"• reader - reads and rates works\n" +
			"• author - publishes works\n" +
			"• moderator - reviews works before publication\n" +
			"• owner - manages user roles\n" +
			"• banned - no access")
	} else {
		b.WriteString("\n❗️ Ask the bot owner for the author or moderator role.")
	}
	return r.say(b.String())
}

func ratingLabel(w domain.Work) string {
	if w.RatingCount == 0 {
		return "no ratings"
	}
	return fmt.Sprintf("⭐%.2f, %d ratings", w.Rating, w.RatingCount)
}

func (r *Router) worksList(ctx context.Context, userID int64) []Reply {
	listings, err := r.app.ListApproved(ctx, userID)
	if err != nil {
		return r.fail(err)
	}
	if len(listings) == 0 {
		return r.say("No works available yet.")
	}
	var b strings.Builder
	b.WriteString("📚 Published works:\n\n")
	for _, l := range listings {
		fmt.Fprintf(&b, "ID: %d - %s (%s)\n", l.Work.ID, l.Work.Title, ratingLabel(l.Work))
	}
	b.WriteString("\nUse /read_work <id> to read a work.")
	return r.say(b.String())
}

func (r *Router) readList(ctx context.Context, userID int64) []Reply {
	listings, err := r.app.ListApproved(ctx, userID)
	if err != nil {
		return r.fail(err)
	}
	if len(listings) == 0 {
		return r.say("No works available yet.")
	}
	var b strings.Builder
	b.WriteString("📚 Available works:\n\n")
	for _, l := range listings {
		fmt.Fprintf(&b, "ID: %d\n📖 Title: %s\n✍️ Author: %s\n📊 Rating: %s\n\n",
			l.Work.ID, l.Work.Title, l.Author.Mention(), ratingLabel(l.Work))
	}
	return r.say(b.String())
}

func (r *Router) readWork(ctx context.Context, userID, workID int64) []Reply {
	listing, rated, err := r.app.ReadWork(ctx, userID, workID)
	if err != nil {
		return r.fail(err)
	}
	w := listing.Work
	text := fmt.Sprintf("📖 %s\n✍️ Author: %s\n⭐ Rating: %s\n──────────\n\n%s",
		w.Title, listing.Author.Mention(), ratingLabel(w), w.Content)
	row := []Button{{Text: "💬 Reviews", Data: fmt.Sprintf("reviews:%d", w.ID)}}
	if !rated {
		row = append([]Button{{Text: "⭐ Rate", Data: fmt.Sprintf("rate:%d", w.ID)}}, row...)
	}
	return r.chunks(text, [][]Button{row})
}

func (r *Router) reviews(ctx context.Context, userID, workID int64) []Reply {
	work, reviews, err := r.app.Reviews(ctx, userID, workID)
	if err != nil {
		return r.fail(err)
	}
	if len(reviews) == 0 {
		return r.say(fmt.Sprintf("No reviews of %q yet.", work.Title))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💬 Reviews of %q (%s):\n\n", work.Title, ratingLabel(work))
	for _, rv := range reviews {
		fmt.Fprintf(&b, "%s %s (%s)\n", strings.Repeat("⭐", rv.Review.Stars), rv.Reviewer.Mention(),
			rv.Review.CreatedAt.Format("2006-01-02"))
		if rv.Review.Comment != "" {
			b.WriteString(rv.Review.Comment + "\n")
		}
		b.WriteString("\n")
	}
	return r.say(b.String())
}

func (r *Router) pending(ctx context.Context, moderatorID int64) []Reply {
	listings, err := r.app.PendingWorks(ctx, moderatorID)
	if err != nil {
		return r.fail(err)
	}
	if len(listings) == 0 {
		return r.say("No works awaiting review.")
	}
	var replies []Reply
	for _, l := range listings {
		text := fmt.Sprintf("Work: %s (ID: %d)\nAuthor: %s\n\n%s", l.Work.Title, l.Work.ID, l.Author.Mention(), l.Work.Content)
		buttons := [][]Button{{
			{Text: "✅ Approve", Data: fmt.Sprintf("approve:%d", l.Work.ID)},
			{Text: "❌ Reject", Data: fmt.Sprintf("reject:%d", l.Work.ID)},
		}}
		replies = append(replies, r.chunks(text, buttons)...)
	}
	return replies
}

func (r *Router) users(ctx context.Context, ownerID int64) []Reply {
	users, err := r.app.ListUsers(ctx, ownerID)
	if err != nil {
		return r.fail(err)
	}
	if len(users) == 0 {
		return r.say("No registered users.")
	}
	var b strings.Builder
	b.WriteString("👥 Users:\n\n")
	for _, u := range users {
		name := u.FirstName
		if name == "" {
			name = "unknown"
		}
		fmt.Fprintf(&b, "• %s (%s)\n  Role: %s\n  ID: %d\n  Change role: /setrole %d <role>\n\n",
			name, u.Mention(), u.Role.Title(), u.ID, u.ID)
	}
	b.WriteString("📝 Roles: reader, author, moderator, banned\nExample: /setrole 123456789 author")
	return r.say(b.String())
}
