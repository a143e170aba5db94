// Package messages holds the user-facing strings of the bot, keyed by
// "section.name" and loaded from YAML catalogs.
package messages

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/stellarlinkco/taskflow/internal/task"
	"gopkg.in/yaml.v3"
)

const DefaultLocale = "en"

const (
	ButtonAcknowledge = "button.acknowledge"
	ButtonStart       = "button.start"
	ButtonSubmit      = "button.submit"
	ButtonApprove     = "button.approve"
	ButtonReject      = "button.reject"

	CardNew     = "card.new"
	CardTask    = "card.task"
	CardDepends = "card.depends"
	CardReview  = "card.review"

	ReplyReviewerSet    = "reply.reviewer_set"
	ReplyMyTasks        = "reply.my_tasks"
	ReplyNoTasks        = "reply.no_tasks"
	ReplyStatusUpdated  = "reply.status_updated"
	ReplyReviewRecorded = "reply.review_recorded"
	ReplyTaskDeleted    = "reply.task_deleted"
	ReplyTaskReassigned = "reply.task_reassigned"
	ReplyHelp           = "reply.help"

	UsageSetReviewer = "usage.set_reviewer"
	UsageAddTask     = "usage.add_task"
	UsageReviewTask  = "usage.review_task"
	UsageManageTask  = "usage.manage_task"

	ErrorNotFound          = "error.not_found"
	ErrorNotAdmin          = "error.not_admin"
	ErrorNotReviewer       = "error.not_reviewer"
	ErrorNotAssignee       = "error.not_assignee"
	ErrorForbidden         = "error.forbidden"
	ErrorInvalidTransition = "error.invalid_transition"
	ErrorDependency        = "error.dependency"
	ErrorConflict          = "error.conflict"
	ErrorInvalidInput      = "error.invalid_input"
	ErrorUnknownCommand    = "error.unknown_command"
	ErrorInternal          = "error.internal"

	NotifySubmitted      = "notify.submitted"
	NotifyApproved       = "notify.approved"
	NotifyRejected       = "notify.rejected"
	NotifyReassignedTo   = "notify.reassigned_to"
	NotifyReassignedFrom = "notify.reassigned_from"
	NotifyDeadline       = "notify.deadline"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Catalog resolves message keys for one locale, falling back to English.
type Catalog struct {
	locale   string
	entries  map[string]string
	fallback map[string]string
}

// Locales lists the built-in catalog names.
func Locales() []string {
	entries, _ := fs.ReadDir(localeFS, "locales")
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(out)
	return out
}

// Load builds a catalog for locale. When overridePath is set, its entries
// replace the built-in ones; a missing override file is not an error.
func Load(locale, overridePath string) (*Catalog, error) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		locale = DefaultLocale
	}

	fallback, err := loadBuiltin(DefaultLocale)
	if err != nil {
		return nil, err
	}
	entries := fallback
	if locale != DefaultLocale {
		entries, err = loadBuiltin(locale)
		if err != nil {
			return nil, err
		}
	}

	if path := strings.TrimSpace(overridePath); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read messages %q: %w", path, err)
		default:
			overrides, err := parseCatalog(data)
			if err != nil {
				return nil, fmt.Errorf("parse messages %q: %w", path, err)
			}
			merged := make(map[string]string, len(entries)+len(overrides))
			for k, v := range entries {
				merged[k] = v
			}
			for k, v := range overrides {
				merged[k] = v
			}
			entries = merged
		}
	}

	return &Catalog{locale: locale, entries: entries, fallback: fallback}, nil
}

// Default returns the built-in English catalog.
func Default() *Catalog {
	c, err := Load(DefaultLocale, "")
	if err != nil {
		panic(fmt.Sprintf("messages: built-in catalog: %v", err))
	}
	return c
}

func (c *Catalog) Locale() string { return c.locale }

// T formats the message for key with args. Unknown keys render as the key.
func (c *Catalog) T(key string, args ...any) string {
	tmpl, ok := c.entries[key]
	if !ok {
		tmpl, ok = c.fallback[key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// Status returns the display label of s.
func (c *Catalog) Status(s task.Status) string {
	return c.T("status." + string(s))
}

func loadBuiltin(locale string) (map[string]string, error) {
	data, err := localeFS.ReadFile("locales/" + locale + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown locale %q (available: %s)", locale, strings.Join(Locales(), ", "))
	}
	entries, err := parseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parse built-in locale %q: %w", locale, err)
	}
	return entries, nil
}

func parseCatalog(data []byte) (map[string]string, error) {
	var sections map[string]map[string]string
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for section, items := range sections {
		for name, text := range items {
			out[section+"."+name] = strings.TrimRight(text, "\n")
		}
	}
	return out, nil
}
