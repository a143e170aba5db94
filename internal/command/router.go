// Package command turns chat messages and button presses into workflow
// operations and renders the replies.
package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/stellarlinkco/taskflow/internal/bus"
	"github.com/stellarlinkco/taskflow/internal/messages"
	"github.com/stellarlinkco/taskflow/internal/task"
	"github.com/stellarlinkco/taskflow/internal/workflow"
)

const (
	CmdSetReviewer = "set_reviewer"
	CmdAddTask     = "add_task"
	CmdMyTasks     = "my_tasks"
	CmdReviewTask  = "review_task"
	CmdManageTask  = "manage_task"
	CmdHelp        = "help"
	CmdStart       = "start"
)

// Descriptor describes a command for registration with the chat platform.
type Descriptor struct {
	Name        string
	Description string
}

// Commands lists the slash commands in menu order.
func Commands() []Descriptor {
	return []Descriptor{
		{CmdAddTask, "Create a task (PO)"},
		{CmdMyTasks, "List your open tasks"},
		{CmdReviewTask, "Review a task (PO)"},
		{CmdManageTask, "Delete or reassign a task (PO)"},
		{CmdSetReviewer, "Set the main product owner (admin)"},
		{CmdHelp, "Show help"},
	}
}

const dependencyPrefix = "after="

type Router struct {
	svc     *workflow.Service
	catalog *messages.Catalog
}

func NewRouter(svc *workflow.Service, catalog *messages.Catalog) *Router {
	if catalog == nil {
		catalog = messages.Default()
	}
	return &Router{svc: svc, catalog: catalog}
}

// Handle processes one inbound message and returns the replies to send.
// Everything except the task card of add_task is addressed privately to the
// sender: callback answers for button presses, direct messages otherwise.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) []bus.OutboundMessage {
	if msg.IsCallback() {
		return []bus.OutboundMessage{r.handleCallback(ctx, msg)}
	}
	if msg.Command == "" {
		return nil
	}

	args := strings.TrimSpace(msg.Content)
	switch strings.ToLower(msg.Command) {
	case CmdSetReviewer:
		return r.setReviewer(ctx, msg, args)
	case CmdAddTask:
		return r.addTask(ctx, msg, args)
	case CmdMyTasks:
		return r.myTasks(ctx, msg)
	case CmdReviewTask:
		return r.reviewTask(ctx, msg, args)
	case CmdManageTask:
		return r.manageTask(ctx, msg, args)
	case CmdHelp, CmdStart:
		return r.private(msg, r.catalog.T(messages.ReplyHelp))
	default:
		return r.private(msg, r.catalog.T(messages.ErrorUnknownCommand))
	}
}

func (r *Router) setReviewer(ctx context.Context, msg bus.InboundMessage, args string) []bus.OutboundMessage {
	user := resolveUser(firstField(args), msg.Mentions)
	if user == "" {
		return r.private(msg, r.catalog.T(messages.UsageSetReviewer))
	}
	if err := r.svc.SetReviewer(ctx, msg.SenderID, user); err != nil {
		return r.private(msg, r.describeError(err))
	}
	return r.private(msg, r.catalog.T(messages.ReplyReviewerSet, user))
}

func (r *Router) addTask(ctx context.Context, msg bus.InboundMessage, args string) []bus.OutboundMessage {
	req, ok := ParseAddTask(args)
	if !ok {
		return r.private(msg, r.catalog.T(messages.UsageAddTask))
	}
	// Button presses are matched against the assignee's user id.
	if req.Assignee = resolveUser(req.Assignee, msg.Mentions); req.Assignee == "" {
		return r.private(msg, r.catalog.T(messages.UsageAddTask))
	}
	t, err := r.svc.AddTask(ctx, msg.SenderID, req)
	if err != nil {
		return r.private(msg, r.describeError(err))
	}

	content := r.catalog.T(messages.CardNew, t.ID, t.Title, t.Assignee, t.Deadline)
	if t.HasDependency() {
		content += "\n" + r.catalog.T(messages.CardDepends, t.Dependency)
	}
	return []bus.OutboundMessage{{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Buttons: r.taskButtons(t.ID),
	}}
}

// myTasks sends a header and then one card per open task, each with its own
// controls.
func (r *Router) myTasks(ctx context.Context, msg bus.InboundMessage) []bus.OutboundMessage {
	tasks, err := r.svc.MyTasks(ctx, msg.SenderID)
	if err != nil {
		return r.private(msg, r.describeError(err))
	}
	if len(tasks) == 0 {
		return r.private(msg, r.catalog.T(messages.ReplyNoTasks))
	}

	out := r.private(msg, r.catalog.T(messages.ReplyMyTasks))
	for _, t := range tasks {
		content := r.catalog.T(messages.CardTask, t.ID, t.Title, r.catalog.Status(t.Status), t.Deadline)
		if t.HasDependency() {
			content += "\n" + r.catalog.T(messages.CardDepends, t.Dependency)
		}
		card := r.private(msg, content)[0]
		card.Buttons = r.taskButtons(t.ID)
		out = append(out, card)
	}
	return out
}

// taskButtons is the assignee's control row for a task.
func (r *Router) taskButtons(id string) [][]bus.Button {
	return [][]bus.Button{{
		{Text: r.catalog.T(messages.ButtonAcknowledge), Data: CallbackData(string(workflow.ActionAcknowledge), id)},
		{Text: r.catalog.T(messages.ButtonStart), Data: CallbackData(string(workflow.ActionStart), id)},
		{Text: r.catalog.T(messages.ButtonSubmit), Data: CallbackData(string(workflow.ActionSubmit), id)},
	}}
}

func (r *Router) reviewTask(ctx context.Context, msg bus.InboundMessage, args string) []bus.OutboundMessage {
	id := normalizeID(firstField(args))
	if id == "" {
		return r.private(msg, r.catalog.T(messages.UsageReviewTask))
	}
	t, err := r.svc.ReviewTarget(ctx, msg.SenderID, id)
	if err != nil {
		return r.private(msg, r.describeError(err))
	}

	out := r.private(msg, r.catalog.T(messages.CardReview, t.ID, t.Title, t.Assignee, r.catalog.Status(t.Status)))
	out[0].Buttons = [][]bus.Button{{
		{Text: r.catalog.T(messages.ButtonApprove), Data: CallbackData(string(workflow.OutcomeApprove), t.ID)},
		{Text: r.catalog.T(messages.ButtonReject), Data: CallbackData(string(workflow.OutcomeReject), t.ID)},
	}}
	return out
}

func (r *Router) manageTask(ctx context.Context, msg bus.InboundMessage, args string) []bus.OutboundMessage {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return r.private(msg, r.catalog.T(messages.UsageManageTask))
	}
	id := normalizeID(fields[0])

	switch strings.ToLower(fields[1]) {
	case "delete":
		if err := r.svc.DeleteTask(ctx, msg.SenderID, id); err != nil {
			return r.private(msg, r.describeError(err))
		}
		return r.private(msg, r.catalog.T(messages.ReplyTaskDeleted, id))
	case "reassign":
		user := ""
		if len(fields) > 2 {
			user = fields[2]
		}
		user = resolveUser(user, msg.Mentions)
		if user == "" {
			return r.private(msg, r.catalog.T(messages.UsageManageTask))
		}
		t, err := r.svc.ReassignTask(ctx, msg.SenderID, id, user)
		if err != nil {
			return r.private(msg, r.describeError(err))
		}
		return r.private(msg, r.catalog.T(messages.ReplyTaskReassigned, t.ID, t.Assignee))
	default:
		return r.private(msg, r.catalog.T(messages.UsageManageTask))
	}
}

func (r *Router) handleCallback(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	answer := bus.OutboundMessage{
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		CallbackID: msg.CallbackID,
	}

	action, id, ok := ParseCallbackData(msg.Action)
	if !ok {
		answer.Content = r.describeError(fmt.Errorf("%w: unknown button %q", task.ErrInvalidInput, msg.Action))
		return answer
	}

	switch outcome := workflow.Outcome(action); outcome {
	case workflow.OutcomeApprove, workflow.OutcomeReject:
		if _, err := r.svc.Review(ctx, msg.SenderID, id, outcome); err != nil {
			answer.Content = r.describeError(err)
			return answer
		}
		answer.Content = r.catalog.T(messages.ReplyReviewRecorded, id)
		return answer
	}

	t, err := r.svc.Advance(ctx, msg.SenderID, id, workflow.Action(action))
	if err != nil {
		answer.Content = r.describeError(err)
		return answer
	}
	answer.Content = r.catalog.T(messages.ReplyStatusUpdated, t.ID, r.catalog.Status(t.Status))
	return answer
}

// describeError maps a workflow error to the caller-facing message.
func (r *Router) describeError(err error) string {
	var depErr *task.DependencyError
	var trErr *task.TransitionError

	switch {
	case errors.As(err, &depErr):
		return r.catalog.T(messages.ErrorDependency, depErr.DependencyID)
	case errors.As(err, &trErr):
		return r.catalog.T(messages.ErrorInvalidTransition, r.catalog.Status(trErr.Current))
	case errors.Is(err, task.ErrNotAdmin):
		return r.catalog.T(messages.ErrorNotAdmin)
	case errors.Is(err, task.ErrNotReviewer):
		return r.catalog.T(messages.ErrorNotReviewer)
	case errors.Is(err, task.ErrNotAssignee):
		return r.catalog.T(messages.ErrorNotAssignee)
	case errors.Is(err, task.ErrForbidden):
		return r.catalog.T(messages.ErrorForbidden)
	case errors.Is(err, task.ErrNotFound):
		return r.catalog.T(messages.ErrorNotFound)
	case errors.Is(err, task.ErrConflict):
		return r.catalog.T(messages.ErrorConflict)
	case errors.Is(err, task.ErrInvalidInput):
		return r.catalog.T(messages.ErrorInvalidInput, err.Error())
	default:
		log.Printf("[command] unexpected error: %v", err)
		return r.catalog.T(messages.ErrorInternal)
	}
}

// private addresses a reply to the sender's direct chat.
func (r *Router) private(msg bus.InboundMessage, content string) []bus.OutboundMessage {
	return []bus.OutboundMessage{{
		Channel: msg.Channel,
		ChatID:  msg.SenderID,
		Content: content,
	}}
}

// CallbackData encodes a button payload as "<action>:<task id>".
func CallbackData(action, taskID string) string {
	return action + ":" + taskID
}

// ParseCallbackData splits a button payload produced by CallbackData.
func ParseCallbackData(data string) (action, taskID string, ok bool) {
	action, taskID, found := strings.Cut(strings.TrimSpace(data), ":")
	if !found || action == "" {
		return "", "", false
	}
	taskID = normalizeID(taskID)
	if !task.ValidID(taskID) {
		return "", "", false
	}
	return strings.ToLower(action), taskID, true
}

// ParseAddTask parses "<assignee> <YYYY-MM-DD> [after=KT###] <title...>".
// The deadline is passed through unvalidated.
func ParseAddTask(args string) (workflow.NewTask, bool) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return workflow.NewTask{}, false
	}
	req := workflow.NewTask{Assignee: fields[0], Deadline: fields[1]}
	rest := fields[2:]
	if v, found := strings.CutPrefix(strings.ToLower(rest[0]), dependencyPrefix); found {
		if v == "" {
			return workflow.NewTask{}, false
		}
		req.Dependency = normalizeID(v)
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return workflow.NewTask{}, false
	}
	req.Title = strings.Join(rest, " ")
	return req, true
}

// resolveUser prefers an explicit numeric id argument, then the first mention.
// An unresolved "@name" yields "" since it carries no user id.
func resolveUser(arg string, mentions []string) string {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), "@")
	if _, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return arg
	}
	if len(mentions) > 0 {
		return mentions[0]
	}
	return ""
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
