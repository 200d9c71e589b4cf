package main

import (
	"fmt"
	"slices"
	"time"

	"mailsweep/internal/model"
	"mailsweep/internal/util"
)

type demoSender struct {
	addr        string
	name        string
	subject     string
	count       int
	everyDays   int
	size        int64
	read        bool
	unsubscribe bool
	attachment  string
	labels      []string
}

var demoSenders = []demoSender{
	{addr: "deals@shop.example", name: "Shop Deals", subject: "Flash sale: 50%% off everything #%d", count: 40, everyDays: 2, size: 48_000, unsubscribe: true, labels: []string{"CATEGORY_PROMOTIONS"}},
	{addr: "newsletter@weekly.example", name: "The Weekly", subject: "Issue %d: this week in review", count: 25, everyDays: 7, size: 120_000, unsubscribe: true, labels: []string{"CATEGORY_UPDATES"}},
	{addr: "noreply@alerts.example", name: "Alerts", subject: "Notification %d: your report is ready", count: 30, everyDays: 1, size: 9_000},
	{addr: "alice@friends.example", name: "Alice", subject: "Re: weekend plans (%d)", count: 6, everyDays: 11, size: 15_000, read: true},
	{addr: "billing@bank.example", name: "Bank", subject: "Your statement %d is available", count: 8, everyDays: 30, size: 220_000, read: true, attachment: "pdf", labels: []string{model.LabelImportant}},
}

// demoMessages returns a small synthetic mailbox relative to now.
func demoMessages(now time.Time) []model.MessageSummary {
	var out []model.MessageSummary
	for si, s := range demoSenders {
		_, domain := util.SplitSender(s.addr)
		for i := 0; i < s.count; i++ {
			labels := append([]string{model.LabelInbox}, s.labels...)
			if !s.read {
				labels = append(labels, model.LabelUnread)
			}
			msg := model.MessageSummary{
				ID:             fmt.Sprintf("demo-%d-%03d", si, i),
				ThreadID:       fmt.Sprintf("thread-%d-%03d", si, i),
				From:           fmt.Sprintf("%s <%s>", s.name, s.addr),
				Sender:         s.addr,
				Domain:         domain,
				Subject:        fmt.Sprintf(s.subject, i+1),
				Date:           now.Add(-time.Duration(i*s.everyDays)*24*time.Hour - time.Hour),
				SizeBytes:      s.size + int64(i*512),
				Unread:         !s.read,
				Important:      slices.Contains(s.labels, model.LabelImportant),
				Labels:         labels,
				HasUnsubscribe: s.unsubscribe,
			}
			if s.attachment != "" {
				msg.HasAttachments = true
				msg.AttachmentTypes = []string{s.attachment}
			}
			if s.unsubscribe {
				msg.UnsubscribeURL = "https://" + domain + "/unsubscribe"
			}
			out = append(out, msg)
		}
	}
	return out
}
