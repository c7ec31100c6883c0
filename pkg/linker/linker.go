// Copyright 2024-2026 Aiku AI

// Package linker turns chat messages that mention Piazza posts into replies
// carrying links and post previews.
package linker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mattermost-piazza-linker/pkg/mention"
	"github.com/aiku/mattermost-piazza-linker/pkg/piazza"
)

const defaultConcurrency = 4

// Lookup fetches posts and users from Piazza. *piazza.Client implements it.
type Lookup interface {
	GetPost(ctx context.Context, classID string, number int) (*piazza.Post, error)
	GetUsers(ctx context.Context, classID string, ids []string) ([]*piazza.User, error)
}

// LinkFunc returns the URL of a post.
type LinkFunc func(classID string, number int) string

// Options configures a Linker.
type Options struct {
	ClassID string
	// Link defaults to piazza.PostURL.
	Link LinkFunc
	// ConvertHTML turns post bodies into chat markup. Nil keeps the HTML.
	ConvertHTML func(string) string
	// Concurrency bounds parallel post fetches.
	Concurrency int
	Logger      zerolog.Logger
}

// Linker resolves post mentions for one Piazza class.
type Linker struct {
	lookup      Lookup
	classID     string
	link        LinkFunc
	convertHTML func(string) string
	concurrency int
	log         zerolog.Logger
}

// New creates a Linker.
func New(lookup Lookup, opts Options) *Linker {
	l := &Linker{
		lookup:      lookup,
		classID:     opts.ClassID,
		link:        opts.Link,
		convertHTML: opts.ConvertHTML,
		concurrency: opts.Concurrency,
		log:         opts.Logger.With().Str("component", "linker").Logger(),
	}
	if l.link == nil {
		l.link = piazza.PostURL
	}
	if l.convertHTML == nil {
		l.convertHTML = func(s string) string { return s }
	}
	if l.concurrency <= 0 {
		l.concurrency = defaultConcurrency
	}
	return l
}

// ClassID returns the class this Linker resolves posts in.
func (l *Linker) ClassID() string { return l.classID }

// ForClass returns a copy of l that resolves posts in classID.
func (l *Linker) ForClass(classID string) *Linker {
	cp := *l
	cp.classID = classID
	cp.log = l.log.With().Str("class_id", classID).Logger()
	return &cp
}

// URL returns the link to post number.
func (l *Linker) URL(number int) string {
	return l.link(l.classID, number)
}

// Failure records a post that could not be fetched.
type Failure struct {
	Number int
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("post @%d: %v", f.Number, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// FetchResult holds the outcome of Fetch, both in first-mention order.
type FetchResult struct {
	Posts    []*piazza.Post
	Failures []Failure
}

// Err aggregates all failures, or returns nil if every post was fetched.
func (r *FetchResult) Err() error {
	var result *multierror.Error
	for _, f := range r.Failures {
		result = multierror.Append(result, f)
	}
	return result.ErrorOrNil()
}

// Fetch retrieves the given post numbers concurrently. Repeated numbers are
// fetched once. A failed post does not stop the others.
func (l *Linker) Fetch(ctx context.Context, numbers []int) *FetchResult {
	unique := dedupe(numbers)
	posts := make([]*piazza.Post, len(unique))
	errs := make([]error, len(unique))

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, nr := range unique {
		g.Go(func() error {
			posts[i], errs[i] = l.lookup.GetPost(ctx, l.classID, nr)
			return nil
		})
	}
	_ = g.Wait()

	result := &FetchResult{}
	for i, nr := range unique {
		if errs[i] != nil {
			l.log.Warn().Err(errs[i]).Int("post", nr).Msg("Failed to fetch Piazza post")
			result.Failures = append(result.Failures, Failure{Number: nr, Err: errs[i]})
			continue
		}
		if posts[i].Number == 0 {
			posts[i].Number = nr
		}
		result.Posts = append(result.Posts, posts[i])
	}
	return result
}

func dedupe(numbers []int) []int {
	seen := make(map[int]struct{}, len(numbers))
	unique := make([]int, 0, len(numbers))
	for _, nr := range numbers {
		if _, ok := seen[nr]; ok {
			continue
		}
		seen[nr] = struct{}{}
		unique = append(unique, nr)
	}
	return unique
}

// LinkMentions wraps every annotated mention of text in a markdown link to
// its post.
func (l *Linker) LinkMentions(text string, annotations []mention.Annotation) (string, error) {
	return mention.Rewrite(text, annotations, func(a mention.Annotation, matched string) string {
		return "[" + matched + "](" + l.URL(a.ReferenceID) + ")"
	})
}

// Summary is the reply line listing linked posts followed by the posts
// that could not be fetched. It is empty when both are empty.
func (l *Linker) Summary(posts []*piazza.Post, failures []Failure) string {
	var b strings.Builder
	if len(posts) > 0 {
		links := make([]string, len(posts))
		for i, p := range posts {
			links[i] = fmt.Sprintf("[@%d](%s)", p.Number, l.URL(p.Number))
		}
		fmt.Fprintf(&b, "Linked Piazza post%s: %s\n", plural(len(posts)), strings.Join(links, ", "))
	}
	if len(failures) > 0 {
		refs := make([]string, len(failures))
		for i, f := range failures {
			refs[i] = fmt.Sprintf("@%d", f.Number)
		}
		fmt.Fprintf(&b, "Could not fetch Piazza post%s: %s", plural(len(failures)), strings.Join(refs, ", "))
	}
	return b.String()
}

func plural(n int) string {
	if n > 1 {
		return "(s)"
	}
	return ""
}
