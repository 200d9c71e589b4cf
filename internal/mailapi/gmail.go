package mailapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailsweep/internal/model"
	"mailsweep/internal/util"
)

const gmailUser = "me"

var metadataHeaders = []string{"From", "Subject", "Date", "Content-Type", "List-Unsubscribe"}

// GmailTransport implements Transport on the Gmail v1 REST API.
type GmailTransport struct {
	svc         *gmailv1.Service
	concurrency int
}

// NewGmailTransport wraps an authenticated service. concurrency bounds the
// parallel metadata gets inside one batch.
func NewGmailTransport(svc *gmailv1.Service, concurrency int) *GmailTransport {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &GmailTransport{svc: svc, concurrency: concurrency}
}

// NewGmailService builds a Gmail service from OAuth client credentials and a
// previously saved token. It never starts an interactive login.
func NewGmailService(ctx context.Context, credentialsFile, tokenFile string) (*gmailv1.Service, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(b, gmailv1.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}
	tok, err := ReadToken(tokenFile)
	if err != nil {
		return nil, &Error{Kind: KindAuthExpired, Op: "auth", Err: fmt.Errorf("read token %s: %w", tokenFile, err)}
	}
	ts := &savingTokenSource{base: cfg.TokenSource(ctx, tok), path: tokenFile, last: tok}
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// ReadToken loads a JSON encoded oauth2 token.
func ReadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// SaveToken writes tok atomically via a temp file.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// savingTokenSource persists refreshed tokens so the next run starts with a valid one.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || s.last.AccessToken != tok.AccessToken {
		_ = SaveToken(s.path, tok)
		s.last = tok
	}
	return tok, nil
}

func (g *GmailTransport) ListPage(ctx context.Context, query string, includeSpamTrash bool, pageToken string, pageSize int64) (Page, error) {
	call := g.svc.Users.Messages.List(gmailUser).
		IncludeSpamTrash(includeSpamTrash).
		MaxResults(pageSize).
		Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return Page{}, err
	}
	page := Page{NextPageToken: resp.NextPageToken, IDs: make([]string, 0, len(resp.Messages))}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// GetBatch fetches metadata for ids with bounded parallelism. Failures are per id;
// only cancellation fails the whole call.
func (g *GmailTransport) GetBatch(ctx context.Context, ids []string) ([]model.MessageSummary, map[string]error, error) {
	var (
		mu     sync.Mutex
		out    = make([]model.MessageSummary, 0, len(ids))
		failed = make(map[string]error)
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for _, id := range ids {
		eg.Go(func() error {
			msg, err := g.svc.Users.Messages.Get(gmailUser, id).
				Format("metadata").
				MetadataHeaders(metadataHeaders...).
				Context(ectx).
				Do()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[id] = err
				return nil
			}
			out = append(out, Summarize(msg))
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return out, failed, nil
}

func (g *GmailTransport) Modify(ctx context.Context, ids []string, add, remove []string) (map[string]error, error) {
	err := g.svc.Users.Messages.BatchModify(gmailUser, &gmailv1.BatchModifyMessagesRequest{
		Ids:            ids,
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// Trash moves ids to the trash in one batchModify. When the batch is rejected as
// a whole with a permanent error (one bad id poisons it), each id is trashed on
// its own so the good ids still go through.
func (g *GmailTransport) Trash(ctx context.Context, ids []string) (map[string]error, error) {
	_, err := g.Modify(ctx, ids, []string{model.LabelTrash}, []string{model.LabelInbox})
	if err == nil {
		return nil, nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || KindOf(err) != KindPermanent {
		return nil, err
	}
	failed := make(map[string]error)
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, err := g.svc.Users.Messages.Trash(gmailUser, id).Context(ctx).Do(); err != nil {
			failed[id] = err
		}
	}
	return failed, nil
}

// Summarize converts a Gmail message (metadata or full format) into a MessageSummary.
func Summarize(msg *gmailv1.Message) model.MessageSummary {
	s := model.MessageSummary{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		Snippet:   msg.Snippet,
		SizeBytes: msg.SizeEstimate,
		Labels:    append([]string(nil), msg.LabelIds...),
	}
	sort.Strings(s.Labels)
	s.Unread = s.HasLabel(model.LabelUnread)
	s.Starred = s.HasLabel(model.LabelStarred)
	s.Important = s.HasLabel(model.LabelImportant)
	if msg.InternalDate > 0 {
		s.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload == nil {
		return s
	}
	var date string
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			s.From = h.Value
		case "subject":
			s.Subject = h.Value
		case "date":
			date = h.Value
		case "content-type":
			if mt, _, err := mime.ParseMediaType(h.Value); err == nil && mt == "multipart/mixed" {
				s.HasAttachments = true
			}
		case "list-unsubscribe":
			s.HasUnsubscribe = true
			s.UnsubscribeURL = util.ExtractHTTPUnsubscribeURL(h.Value)
		}
	}
	if s.Date.IsZero() {
		s.Date = parseDate(date)
	}
	s.Sender = util.NormalizeSender(s.From)
	_, s.Domain = util.SplitSender(s.Sender)

	types := make(map[string]struct{})
	walkParts(msg.Payload, func(p *gmailv1.MessagePart) {
		if p.Filename == "" {
			return
		}
		s.HasAttachments = true
		if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p.Filename)), "."); ext != "" {
			types[ext] = struct{}{}
		}
	})
	for t := range types {
		s.AttachmentTypes = append(s.AttachmentTypes, t)
	}
	sort.Strings(s.AttachmentTypes)
	return s
}

func walkParts(p *gmailv1.MessagePart, fn func(*gmailv1.MessagePart)) {
	if p == nil {
		return
	}
	fn(p)
	for _, c := range p.Parts {
		walkParts(c, fn)
	}
}

func parseDate(h string) time.Time {
	if h == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		time.RFC850,
		time.RFC3339,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, h); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
