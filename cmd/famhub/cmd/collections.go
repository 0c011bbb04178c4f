package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"famhub/backend"
	"famhub/backend/rest"
	"famhub/backend/sqlite"
	"famhub/internal/collection"
	"famhub/internal/config"
	"famhub/internal/connectivity"
	"famhub/internal/invalidation"
	"famhub/internal/shutdown"
	"famhub/internal/state"
	"famhub/internal/tui"
	"famhub/internal/utils"
	"famhub/internal/watcher"
	"famhub/internal/worker"
)

// shutdownTimeout bounds cleanup after the live view exits.
const shutdownTimeout = 5 * time.Second

// oneShot returns sync settings for a command that refreshes once and
// exits.
func (s *session) oneShot() collection.Config {
	sc := collection.DefaultConfig()
	sc.PollInterval = s.conf.GetPollInterval()
	sc.FetchOnStart = false
	return sc
}

func (s *session) todos(sc collection.Config) *collection.Todos {
	var opts []collection.Option[backend.Todo]
	if s.snapshots != nil {
		opts = append(opts, collection.WithSnapshots[backend.Todo](sqlite.For(s.snapshots, backend.Todos)))
	}
	return collection.NewTodos(rest.Todos(s.client), sc, opts...)
}

func (s *session) calendar(sc collection.Config, month time.Time) *collection.Calendar {
	var opts []collection.Option[backend.Event]
	if s.snapshots != nil {
		opts = append(opts, collection.WithSnapshots[backend.Event](sqlite.For(s.snapshots, backend.Events)))
	}
	return collection.NewCalendar(rest.Events(s.client), sc, month, opts...)
}

func (s *session) memos(sc collection.Config) *collection.Memos {
	var opts []collection.Option[backend.Memo]
	if s.snapshots != nil {
		opts = append(opts, collection.WithSnapshots[backend.Memo](sqlite.For(s.snapshots, backend.Memos)))
	}
	return collection.NewMemos(rest.Memos(s.client), sc, opts...)
}

// fetch refreshes c and returns its items. When the server can't be
// reached, or offline mode is forced, the stored snapshot is returned with
// the time it was saved.
func fetch[T any, P collection.Patch[T]](ctx context.Context, s *session, c *collection.Controller[T, P]) (items []T, cachedAt time.Time, err error) {
	resource := c.Resource()

	var fetchErr error
	if s.conf.GetOfflineMode() != string(connectivity.ModeOffline) {
		fetchErr = c.Refresh(ctx)
		if fetchErr == nil {
			return c.Items(), time.Time{}, nil
		}
		var transient *collection.TransientFetchError
		if !errors.As(fetchErr, &transient) || s.snapshots == nil {
			return nil, time.Time{}, s.describe(fetchErr)
		}
		utils.Warnf("%v; showing cached %s", s.describe(fetchErr), resource.Plural)
	}

	if s.snapshots == nil {
		return nil, time.Time{}, errors.New("offline mode needs cache.enabled")
	}
	items, savedAt, found, err := sqlite.For(s.snapshots, resource).Load(ctx, c.Scope())
	if err != nil {
		return nil, time.Time{}, err
	}
	if !found {
		if fetchErr != nil {
			return nil, time.Time{}, s.describe(fetchErr)
		}
		return nil, time.Time{}, fmt.Errorf("no cached %s available", resource.Plural)
	}
	return items, savedAt, nil
}

// requireItem refreshes c and checks id is present.
func requireItem[T any, P collection.Patch[T]](ctx context.Context, s *session, c *collection.Controller[T, P], id string) (T, error) {
	var zero T
	if err := c.Refresh(ctx); err != nil {
		return zero, s.describe(err)
	}
	item, ok := c.Get(id)
	if !ok {
		return zero, utils.ErrItemNotFound(c.Resource().Name, id)
	}
	return item, nil
}

type listOutput[T any] struct {
	Result   string    `json:"result"`
	Resource string    `json:"resource"`
	Items    []T       `json:"items"`
	CachedAt time.Time `json:"cached_at,omitzero"`
}

type actionOutput struct {
	Result string `json:"result"`
	Action string `json:"action"`
	Item   any    `json:"item,omitempty"`
}

func printItems[T any](stdout io.Writer, jsonOutput bool, resource string, items []T, cachedAt time.Time, format func(T) string) error {
	if jsonOutput {
		if items == nil {
			items = []T{}
		}
		return writeJSON(stdout, listOutput[T]{Result: ResultInfoOnly, Resource: resource, Items: items, CachedAt: cachedAt})
	}
	if !cachedAt.IsZero() {
		_, _ = fmt.Fprintf(stdout, "(offline, cached %s)\n", cachedAt.Local().Format("2006-01-02 15:04"))
	}
	if len(items) == 0 {
		_, _ = fmt.Fprintf(stdout, "No %s\n", resource)
		return nil
	}
	for _, item := range items {
		_, _ = fmt.Fprintln(stdout, format(item))
	}
	return nil
}

func printAction(stdout io.Writer, jsonOutput bool, action string, item any, text string) error {
	if jsonOutput {
		return writeJSON(stdout, actionOutput{Result: ResultActionCompleted, Action: action, Item: item})
	}
	_, err := fmt.Fprintln(stdout, text)
	return err
}

func formatTodo(t backend.Todo) string {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}
	var extra []string
	if t.Priority != "" && t.Priority != backend.PriorityMedium {
		extra = append(extra, string(t.Priority))
	}
	if t.DueDate != "" {
		extra = append(extra, "due "+t.DueDate)
	}
	line := fmt.Sprintf("%s %s  %s", box, t.ID, t.Title)
	if len(extra) > 0 {
		line += "  (" + strings.Join(extra, ", ") + ")"
	}
	return line
}

func formatEvent(e backend.Event) string {
	at := e.Time
	if at == "" {
		at = "all-day"
	}
	return fmt.Sprintf("%s %-7s  %s  %s", e.Date, at, e.ID, e.Title)
}

func formatMemo(m backend.Memo) string {
	pin := "   "
	if m.Pinned {
		pin = "[*]"
	}
	content := strings.ReplaceAll(m.Content, "\n", " ")
	return fmt.Sprintf("%s %s  %s", pin, m.ID, content)
}

// sortEvents orders events by date, all-day events first within a day.
func sortEvents(events []backend.Event) []backend.Event {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.Time < b.Time
	})
	return events
}

func parseMonth(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now, nil
	}
	month, err := time.ParseInLocation("2006-01", value, now.Location())
	if err != nil {
		return time.Time{}, utils.WrapWithSuggestion(
			fmt.Errorf("invalid month: %s", value),
			"Use format YYYY-MM (e.g., 2026-03)",
		)
	}
	return month, nil
}

func parsePriority(value string) (backend.Priority, error) {
	switch p := backend.Priority(strings.ToLower(value)); p {
	case "":
		return "", nil
	case backend.PriorityHigh, backend.PriorityMedium, backend.PriorityLow:
		return p, nil
	}
	return "", utils.ErrInvalidPriority(value)
}

// =============================================================================
// list
// =============================================================================

func newListCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <events|todos|memos>",
		Short: "Show a collection",
		Long:  "Fetch a collection from the server. When the server can't be reached the last cached copy is shown.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jsonOutput, _ := cmd.Flags().GetBool("json")

			switch args[0] {
			case backend.ResourceTodos, backend.ResourceEvents, backend.ResourceMemos:
			default:
				return utils.ErrUnknownResource(args[0])
			}

			s, err := openSession(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			switch args[0] {
			case backend.ResourceTodos:
				filterStr, _ := cmd.Flags().GetString("filter")
				if filterStr == "" {
					filterStr = s.conf.UI.TodoFilter
				}
				filter, err := collection.ParseFilter(filterStr)
				if err != nil {
					return err
				}
				todos := s.todos(s.oneShot())
				defer todos.Close()
				items, cachedAt, err := fetch(ctx, s, todos.Controller)
				if err != nil {
					return err
				}
				items = collection.SortByPriority(collection.FilterTodos(items, filter))
				return printItems(stdout, jsonOutput, backend.ResourceTodos, items, cachedAt, formatTodo)

			case backend.ResourceEvents:
				monthStr, _ := cmd.Flags().GetString("month")
				month, err := parseMonth(monthStr, cfg.now())
				if err != nil {
					return err
				}
				cal := s.calendar(s.oneShot(), month)
				defer cal.Close()
				items, cachedAt, err := fetch(ctx, s, cal.Controller)
				if err != nil {
					return err
				}
				return printItems(stdout, jsonOutput, backend.ResourceEvents, sortEvents(items), cachedAt, formatEvent)

			default:
				memos := s.memos(s.oneShot())
				defer memos.Close()
				items, cachedAt, err := fetch(ctx, s, memos.Controller)
				if err != nil {
					return err
				}
				return printItems(stdout, jsonOutput, backend.ResourceMemos, collection.SortMemos(items), cachedAt, formatMemo)
			}
		},
	}

	cmd.Flags().String("filter", "", "Todo filter: all, active, completed (default from ui.todo_filter)")
	cmd.Flags().String("month", "", "Calendar month as YYYY-MM (default: current month)")
	return cmd
}

// =============================================================================
// add
// =============================================================================

func newAddCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a todo, event or memo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	todoCmd := &cobra.Command{
		Use:   "todo <title>",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priorityStr, _ := cmd.Flags().GetString("priority")
			priority, err := parsePriority(priorityStr)
			if err != nil {
				return err
			}
			dueStr, _ := cmd.Flags().GetString("due")
			due, err := utils.ParseDate(dueStr, cfg.now())
			if err != nil {
				return err
			}
			description, _ := cmd.Flags().GetString("description")

			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			todos := s.todos(s.oneShot())
			defer todos.Close()
			created, err := todos.Add(ctx, backend.Todo{
				Title:       strings.Join(args, " "),
				Description: description,
				Priority:    priority,
				DueDate:     due,
			})
			if err != nil {
				return s.describe(err)
			}
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return printAction(stdout, jsonOutput, "add", created, fmt.Sprintf("Added todo %s: %s", created.ID, created.Title))
		},
	}
	todoCmd.Flags().StringP("priority", "p", "", "Priority: high, medium, low (default medium)")
	todoCmd.Flags().String("due", "", "Due date (YYYY-MM-DD, today, tomorrow, +3d)")
	todoCmd.Flags().String("description", "", "Longer description")

	eventCmd := &cobra.Command{
		Use:   "event <title>",
		Short: "Add a calendar event",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := cfg.now()
			dateStr, _ := cmd.Flags().GetString("date")
			if dateStr == "" {
				dateStr = "today"
			}
			date, err := utils.ParseDate(dateStr, now)
			if err != nil {
				return err
			}
			at, _ := cmd.Flags().GetString("time")
			if at != "" {
				if _, err := time.Parse("15:04", at); err != nil {
					return utils.WrapWithSuggestion(fmt.Errorf("invalid time: %s", at), "Use 24-hour HH:MM (e.g., 18:30)")
				}
			}
			color, _ := cmd.Flags().GetString("color")
			description, _ := cmd.Flags().GetString("description")
			day, _ := time.ParseInLocation(utils.DateLayout, date, now.Location())

			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			cal := s.calendar(s.oneShot(), day)
			defer cal.Close()
			created, err := cal.Add(ctx, backend.Event{
				Title:       strings.Join(args, " "),
				Description: description,
				Date:        date,
				Time:        at,
				Color:       color,
			})
			if err != nil {
				return s.describe(err)
			}
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return printAction(stdout, jsonOutput, "add", created, fmt.Sprintf("Added event %s: %s on %s", created.ID, created.Title, created.Date))
		},
	}
	eventCmd.Flags().String("date", "", "Event date (YYYY-MM-DD, today, tomorrow, +3d; default today)")
	eventCmd.Flags().String("time", "", "Start time as HH:MM (default all-day)")
	eventCmd.Flags().String("color", "", "Display color, e.g. #3b82f6")
	eventCmd.Flags().String("description", "", "Longer description")

	memoCmd := &cobra.Command{
		Use:   "memo <content>",
		Short: "Post a memo to the board",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pinned, _ := cmd.Flags().GetBool("pin")
			color, _ := cmd.Flags().GetString("color")

			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			memos := s.memos(s.oneShot())
			defer memos.Close()
			created, err := memos.Add(ctx, backend.Memo{
				Content: strings.Join(args, " "),
				Pinned:  pinned,
				Color:   color,
			})
			if err != nil {
				return s.describe(err)
			}
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return printAction(stdout, jsonOutput, "add", created, fmt.Sprintf("Added memo %s", created.ID))
		},
	}
	memoCmd.Flags().Bool("pin", false, "Pin the memo to the top of the board")
	memoCmd.Flags().String("color", "", "Note color, e.g. #fef3c7")

	addCmd.AddCommand(todoCmd, eventCmd, memoCmd)
	return addCmd
}

// =============================================================================
// done, pin, delete
// =============================================================================

func newDoneCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "done <todo-id>",
		Short: "Toggle a todo between active and completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			todos := s.todos(s.oneShot())
			defer todos.Close()
			todo, err := requireItem(ctx, s, todos.Controller, args[0])
			if err != nil {
				return err
			}
			if err := todos.Toggle(ctx, todo.ID); err != nil {
				return s.describe(err)
			}

			verb := "Completed"
			if todo.Completed {
				verb = "Reopened"
			}
			updated, _ := todos.Get(todo.ID)
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return printAction(stdout, jsonOutput, "toggle", updated, fmt.Sprintf("%s: %s", verb, todo.Title))
		},
	}
}

func newPinCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <memo-id>",
		Short: "Pin or unpin a memo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			memos := s.memos(s.oneShot())
			defer memos.Close()
			memo, err := requireItem(ctx, s, memos.Controller, args[0])
			if err != nil {
				return err
			}
			if err := memos.TogglePin(ctx, memo.ID); err != nil {
				return s.describe(err)
			}

			verb := "Pinned"
			if memo.Pinned {
				verb = "Unpinned"
			}
			updated, _ := memos.Get(memo.ID)
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return printAction(stdout, jsonOutput, "pin", updated, fmt.Sprintf("%s memo %s", verb, memo.ID))
		},
	}
}

func newDeleteCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <events|todos|memos> <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, id := args[0], args[1]
			switch resource {
			case backend.ResourceTodos, backend.ResourceEvents, backend.ResourceMemos:
			default:
				return utils.ErrUnknownResource(resource)
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			switch resource {
			case backend.ResourceTodos:
				todos := s.todos(s.oneShot())
				defer todos.Close()
				if _, err := requireItem(ctx, s, todos.Controller, id); err != nil {
					return err
				}
				err = todos.Remove(ctx, id)
			case backend.ResourceEvents:
				monthStr, _ := cmd.Flags().GetString("month")
				month, perr := parseMonth(monthStr, cfg.now())
				if perr != nil {
					return perr
				}
				cal := s.calendar(s.oneShot(), month)
				defer cal.Close()
				if _, err := requireItem(ctx, s, cal.Controller, id); err != nil {
					return err
				}
				err = cal.Remove(ctx, id)
			default:
				memos := s.memos(s.oneShot())
				defer memos.Close()
				if _, err := requireItem(ctx, s, memos.Controller, id); err != nil {
					return err
				}
				err = memos.Remove(ctx, id)
			}
			if err != nil {
				return s.describe(err)
			}

			jsonOutput, _ := cmd.Flags().GetBool("json")
			return printAction(stdout, jsonOutput, "delete", nil, fmt.Sprintf("Deleted %s %s", resource, id))
		},
	}
	cmd.Flags().String("month", "", "Month the event is in, as YYYY-MM (default: current month)")
	return cmd
}

// =============================================================================
// edit
// =============================================================================

// editFlags lists the fields each resource can change.
var editFlags = map[string][]string{
	backend.ResourceEvents: {"title", "description", "date", "time", "color", "month"},
	backend.ResourceTodos:  {"title", "description", "priority", "due"},
	backend.ResourceMemos:  {"content", "color"},
}

var allEditFlags = []string{"title", "description", "date", "time", "color", "priority", "due", "content", "month"}

func checkEditFlags(cmd *cobra.Command, resource string) error {
	allowed := editFlags[resource]
	for _, name := range allEditFlags {
		if cmd.Flags().Changed(name) && !slices.Contains(allowed, name) {
			return utils.WrapWithSuggestion(
				fmt.Errorf("--%s does not apply to %s", name, resource),
				fmt.Sprintf("Flags for %s: --%s", resource, strings.Join(allowed, ", --")),
			)
		}
	}
	return nil
}

// changedString returns the flag value, or nil when it wasn't given.
func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func errNothingToEdit(resource string) error {
	var fields []string
	for _, f := range editFlags[resource] {
		if f != "month" {
			fields = append(fields, "--"+f)
		}
	}
	return utils.WrapWithSuggestion(
		errors.New("nothing to change"),
		"Pass at least one of "+strings.Join(fields, ", "),
	)
}

func requireText(name string, v *string) error {
	if v != nil && strings.TrimSpace(*v) == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

func eventPatchFromFlags(cmd *cobra.Command, now time.Time) (backend.EventPatch, error) {
	patch := backend.EventPatch{
		Title:       changedString(cmd, "title"),
		Description: changedString(cmd, "description"),
		Color:       changedString(cmd, "color"),
	}
	if err := requireText("title", patch.Title); err != nil {
		return patch, err
	}
	if v := changedString(cmd, "date"); v != nil {
		date, err := utils.ParseDate(*v, now)
		if err != nil {
			return patch, err
		}
		if date == "" {
			return patch, utils.ErrInvalidDate(*v)
		}
		patch.Date = &date
	}
	// An empty --time makes the event all-day.
	if v := changedString(cmd, "time"); v != nil {
		if *v != "" {
			if _, err := time.Parse("15:04", *v); err != nil {
				return patch, utils.WrapWithSuggestion(fmt.Errorf("invalid time: %s", *v), "Use 24-hour HH:MM (e.g., 18:30)")
			}
		}
		patch.Time = v
	}
	if patch == (backend.EventPatch{}) {
		return patch, errNothingToEdit(backend.ResourceEvents)
	}
	return patch, nil
}

func todoPatchFromFlags(cmd *cobra.Command, now time.Time) (backend.TodoPatch, error) {
	patch := backend.TodoPatch{
		Title:       changedString(cmd, "title"),
		Description: changedString(cmd, "description"),
	}
	if err := requireText("title", patch.Title); err != nil {
		return patch, err
	}
	if v := changedString(cmd, "priority"); v != nil {
		priority, err := parsePriority(*v)
		if err != nil {
			return patch, err
		}
		if priority == "" {
			return patch, utils.ErrInvalidPriority(*v)
		}
		patch.Priority = &priority
	}
	// An empty --due clears the due date.
	if v := changedString(cmd, "due"); v != nil {
		due, err := utils.ParseDate(*v, now)
		if err != nil {
			return patch, err
		}
		patch.DueDate = &due
	}
	if patch == (backend.TodoPatch{}) {
		return patch, errNothingToEdit(backend.ResourceTodos)
	}
	return patch, nil
}

func memoPatchFromFlags(cmd *cobra.Command) (backend.MemoPatch, error) {
	patch := backend.MemoPatch{
		Content: changedString(cmd, "content"),
		Color:   changedString(cmd, "color"),
	}
	if err := requireText("content", patch.Content); err != nil {
		return patch, err
	}
	if patch == (backend.MemoPatch{}) {
		return patch, errNothingToEdit(backend.ResourceMemos)
	}
	return patch, nil
}

// edit applies patch to id and returns the updated item. A rejected update
// leaves the collection as it was.
func edit[T any, P collection.Patch[T]](ctx context.Context, s *session, c *collection.Controller[T, P], id string, patch P) (T, error) {
	var zero T
	if _, err := requireItem(ctx, s, c, id); err != nil {
		return zero, err
	}
	if err := c.Update(ctx, id, patch); err != nil {
		return zero, s.describe(err)
	}
	updated, _ := c.Get(id)
	return updated, nil
}

func newEditCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <events|todos|memos> <id>",
		Short: "Change fields of an item",
		Long: "Change fields of an event, todo or memo. Only the fields given as flags are sent.\n\n" +
			"  events: --title --description --date --time --color (--month to find it)\n" +
			"  todos:  --title --description --priority --due\n" +
			"  memos:  --content --color",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, id := args[0], args[1]
			if _, ok := editFlags[resource]; !ok {
				return utils.ErrUnknownResource(resource)
			}
			if err := checkEditFlags(cmd, resource); err != nil {
				return err
			}

			now := cfg.now()
			var (
				eventPatch backend.EventPatch
				todoPatch  backend.TodoPatch
				memoPatch  backend.MemoPatch
				err        error
			)
			switch resource {
			case backend.ResourceEvents:
				eventPatch, err = eventPatchFromFlags(cmd, now)
			case backend.ResourceTodos:
				todoPatch, err = todoPatchFromFlags(cmd, now)
			default:
				memoPatch, err = memoPatchFromFlags(cmd)
			}
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				updated any
				line    string
			)
			switch resource {
			case backend.ResourceEvents:
				monthStr, _ := cmd.Flags().GetString("month")
				month, err := parseMonth(monthStr, now)
				if err != nil {
					return err
				}
				cal := s.calendar(s.oneShot(), month)
				defer cal.Close()
				event, err := edit(ctx, s, cal.Controller, id, eventPatch)
				if err != nil {
					return err
				}
				updated, line = event, formatEvent(event)
			case backend.ResourceTodos:
				todos := s.todos(s.oneShot())
				defer todos.Close()
				todo, err := edit(ctx, s, todos.Controller, id, todoPatch)
				if err != nil {
					return err
				}
				updated, line = todo, formatTodo(todo)
			default:
				memos := s.memos(s.oneShot())
				defer memos.Close()
				memo, err := edit(ctx, s, memos.Controller, id, memoPatch)
				if err != nil {
					return err
				}
				updated, line = memo, formatMemo(memo)
			}

			jsonOutput, _ := cmd.Flags().GetBool("json")
			return printAction(stdout, jsonOutput, "edit", updated, "Updated "+strings.TrimSpace(line))
		},
	}

	cmd.Flags().String("title", "", "New title (events, todos)")
	cmd.Flags().String("description", "", "New description (events, todos)")
	cmd.Flags().String("date", "", "New date: YYYY-MM-DD, today, tomorrow, +3d (events)")
	cmd.Flags().String("time", "", "New start time as HH:MM, empty for all-day (events)")
	cmd.Flags().String("color", "", "New color, e.g. #3b82f6 (events, memos)")
	cmd.Flags().StringP("priority", "p", "", "New priority: high, medium, low (todos)")
	cmd.Flags().String("due", "", "New due date, empty to clear (todos)")
	cmd.Flags().String("content", "", "New text (memos)")
	cmd.Flags().String("month", "", "Month the event is in, as YYYY-MM (default: current month)")
	return cmd
}

// =============================================================================
// watch
// =============================================================================

func workerPaths(conf *config.Config) (socketPath, pidPath string) {
	socketPath, pidPath = conf.Worker.SocketPath, conf.Worker.PIDPath
	if socketPath == "" {
		socketPath = worker.GetSocketPath()
	}
	if pidPath == "" {
		pidPath = worker.GetPIDPath()
	}
	return socketPath, pidPath
}

func newWebSocketTransport(conf *config.Config, userID string) *invalidation.WebSocketTransport {
	wsCfg := invalidation.DefaultWebSocketConfig(conf.Sync.WebSocketURL)
	wsCfg.Header = http.Header{}
	if userID != "" {
		wsCfg.Header.Set(rest.UserHeader, userID)
	}
	return invalidation.NewWebSocketTransport(wsCfg)
}

// selectTransport picks the invalidation source named by sync.transport.
// A nil result means the views rely on polling alone.
func selectTransport(conf *config.Config, confPath, userID string) invalidation.Transport {
	socketPath, pidPath := workerPaths(conf)

	switch conf.GetTransport() {
	case "none":
		return nil
	case "worker":
		return worker.NewTransport(socketPath, 0)
	case "websocket":
		return newWebSocketTransport(conf, userID)
	}

	if worker.IsRunning(pidPath, socketPath) {
		utils.Debugf("invalidations from push worker at %s", socketPath)
		return worker.NewTransport(socketPath, 0)
	}
	if conf.Sync.WebSocketURL != "" {
		utils.Debugf("invalidations from %s", conf.Sync.WebSocketURL)
		return newWebSocketTransport(conf, userID)
	}
	if conf.Worker.AutoStart {
		if err := startWorker(conf, confPath); err != nil {
			utils.Warnf("push worker not started, polling only: %v", err)
			return nil
		}
		return worker.NewTransport(socketPath, 0)
	}
	return nil
}

func newWatchCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live calendar, todo and memo view",
		Long: "Open an interactive view that keeps every collection in sync: it polls while the terminal " +
			"has focus and refreshes immediately when the server announces a change.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := shutdown.NewManager()
			mgr.HandleSignals()
			ctx := mgr.Context()

			err := runWatch(ctx, cmd, stdout, cfg, mgr)

			waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if cerr := mgr.Wait(waitCtx); cerr != nil {
				utils.Warnf("shutdown: %v", cerr)
			}
			return err
		},
	}
	cmd.Flags().String("pane", "", "Pane to open: todos, calendar, memos (default from ui.default_pane)")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, stdout io.Writer, cfg *Config, mgr *shutdown.Manager) error {
	s, err := openSession(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	mgr.RegisterCloser("snapshots", s.Close)
	conf := s.conf

	paneStr, _ := cmd.Flags().GetString("pane")
	if paneStr == "" {
		paneStr = conf.GetDefaultPane()
	}
	pane, err := tui.ParsePane(paneStr)
	if err != nil {
		return err
	}
	filter, err := collection.ParseFilter(conf.UI.TodoFilter)
	if err != nil {
		return err
	}

	mode, err := connectivity.ParseMode(conf.GetOfflineMode())
	if err != nil {
		return err
	}
	online := state.NewFlag(mode != connectivity.ModeOffline)
	monitor := connectivity.NewMonitor(connectivity.Config{
		Mode:     mode,
		Interval: conf.GetConnectivityInterval(),
		Timeout:  conf.GetConnectivityTimeout(),
	}, s.client, online)
	monitor.Start(ctx)
	mgr.RegisterCloser("connectivity", monitor.Stop)

	path := configPath(cmd, cfg)
	transport := selectTransport(conf, path, s.user.UserID)
	if closer, ok := transport.(io.Closer); ok {
		mgr.Register("invalidation transport", func(context.Context) error { return closer.Close() })
	}

	visible := state.NewFlag(true)
	sc := collection.Config{
		PollInterval: conf.GetPollInterval(),
		FetchOnStart: conf.IsFetchOnStartEnabled(),
		Online:       online,
		Visibility:   visible,
		Transport:    transport,
	}

	todos := s.todos(sc)
	calendar := s.calendar(sc, cfg.now())
	memos := s.memos(sc)
	todos.Start(ctx)
	mgr.RegisterCloser("todos", todos.Close)
	calendar.Start(ctx)
	mgr.RegisterCloser("calendar", calendar.Close)
	memos.Start(ctx)
	mgr.RegisterCloser("memos", memos.Close)

	w, err := watcher.WatchConfig(config.GetConfigPath(path), func(next *config.Config) {
		interval := next.GetPollInterval()
		todos.SetPollInterval(interval)
		calendar.SetPollInterval(interval)
		memos.SetPollInterval(interval)
		utils.SetVerboseMode(next.Logging.Verbose)
	})
	if err != nil {
		utils.Warnf("config reload disabled: %v", err)
	} else {
		mgr.RegisterCloser("config watcher", w.Stop)
	}

	model := tui.New(ctx, tui.Options{
		Todos:      todos,
		Calendar:   calendar,
		Memos:      memos,
		Online:     online,
		Visibility: visible,
		Pane:       pane,
		Filter:     filter,
		Now:        cfg.Now,
	})
	mgr.RegisterCloser("view", model.Close)

	p := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithOutput(stdout),
		tea.WithAltScreen(),
		tea.WithReportFocus(),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
