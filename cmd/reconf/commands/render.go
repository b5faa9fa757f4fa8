package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/xlab/treeprint"

	"github.com/openfroyo/reconf/pkg/config"
	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
	"github.com/openfroyo/reconf/pkg/policy"
	"github.com/openfroyo/reconf/pkg/stores"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoFormatHeaders(true)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderCommits lists committed actions in commit order.
func renderCommits(w io.Writer, p *plan.ReconfigurationPlan, committed []plan.Action) {
	table := newTable(w, "#", "Index", "Start", "End", "Action")
	for pos, a := range committed {
		table.Append([]string{
			strconv.Itoa(pos + 1),
			strconv.Itoa(p.IndexOf(a)),
			strconv.Itoa(a.Start()),
			strconv.Itoa(a.End()),
			a.String(),
		})
	}
	table.Render()
}

// renderMapping lists nodes with their VMs using configured names.
func renderMapping(w io.Writer, names *config.Names, mo *model.Model) {
	mp := mo.Mapping()
	table := newTable(w, "Node", "State", "Running", "Sleeping")
	for _, n := range mp.AllNodes() {
		table.Append([]string{
			names.Of(n),
			string(mp.NodeState(n)),
			joinNames(names, mp.RunningVMsOn(n)),
			joinNames(names, mp.SleepingVMsOn(n)),
		})
	}
	if ready := mp.ReadyVMs(); len(ready) > 0 {
		table.Append([]string{"-", string(model.VMStateReady), joinNames(names, ready), ""})
	}
	table.Render()
}

func joinNames(names *config.Names, vms []model.VM) string {
	if len(vms) == 0 {
		return "-"
	}
	out := make([]string, len(vms))
	for i, v := range vms {
		out[i] = names.Of(v)
	}
	return strings.Join(out, ", ")
}

// renderOutcome prints the verdict, the violation details and the policy
// violations behind it.
func renderOutcome(w io.Writer, outcome error, pc *policy.Constraint, runID string) {
	if runID != "" {
		fmt.Fprintf(w, "run: %s\n", runID)
	}
	if outcome == nil {
		fmt.Fprintln(w, "result: ok")
		return
	}

	var e *plan.Error
	if !errors.As(outcome, &e) {
		fmt.Fprintf(w, "result: error\n%v\n", outcome)
		return
	}
	fmt.Fprintf(w, "result: %s (%s)\n", e.Class, e.Code)
	table := newTable(w, "Field", "Value")
	table.Append([]string{"message", e.Message})
	if e.Constraint != "" {
		table.Append([]string{"constraint", e.Constraint})
	}
	if hook, ok := e.Details["hook"].(string); ok {
		table.Append([]string{"hook", hook})
	}
	if e.Action != "" {
		table.Append([]string{"action", fmt.Sprintf("#%d %s", e.Index, e.Action)})
	}
	if pos, ok := e.Details["position"].(int); ok {
		table.Append([]string{"position", strconv.Itoa(pos)})
	}
	table.Render()

	if pc != nil && e.Class == plan.ErrorClassViolation && strings.HasPrefix(e.Constraint, "policy(") {
		renderPolicyViolations(w, pc.Violations())
	}
}

func renderPolicyViolations(w io.Writer, violations []policy.Violation) {
	if len(violations) == 0 {
		return
	}
	table := newTable(w, "Policy", "Severity", "Phase", "Element", "Message")
	for _, v := range violations {
		table.Append([]string{v.Policy, string(v.Severity), string(v.Phase), v.Element, v.Message})
	}
	table.Render()
}

func renderRuns(w io.Writer, runs []*stores.Run) {
	table := newTable(w, "ID", "Instance", "Mode", "Status", "Committed", "Started", "Duration")
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Instance,
			string(r.Mode),
			string(r.Status),
			fmt.Sprintf("%d/%d", r.Committed, r.Actions),
			r.StartedAt.Local().Format(time.RFC3339),
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
		})
	}
	table.Render()
}

func renderStoredCommits(w io.Writer, commits []*stores.Commit) {
	table := newTable(w, "#", "Index", "Start", "End", "Action")
	for _, c := range commits {
		table.Append([]string{
			strconv.Itoa(c.Position),
			strconv.Itoa(c.ActionIndex),
			strconv.Itoa(c.Start),
			strconv.Itoa(c.End),
			c.Action,
		})
	}
	table.Render()
}

func renderStoredViolations(w io.Writer, violations []*stores.Violation) {
	table := newTable(w, "Constraint", "Code", "Hook", "Position", "Action")
	for _, v := range violations {
		pos, action := "-", "-"
		if v.Position != nil {
			pos = strconv.Itoa(*v.Position)
		}
		if v.Action != nil {
			action = *v.Action
		}
		table.Append([]string{v.Constraint, v.Code, v.Hook, pos, action})
	}
	table.Render()
}

func renderEvents(w io.Writer, events []*stores.Event) {
	table := newTable(w, "Time", "Level", "Type", "Message")
	for _, e := range events {
		table.Append([]string{
			e.Timestamp.Local().Format("15:04:05.000"),
			string(e.Level),
			e.Type,
			e.Message,
		})
	}
	table.Render()
}

// dependencyTree renders the plan as a forest rooted at the actions without
// dependencies. An action waiting for several others appears under each.
func dependencyTree(name string, p *plan.ReconfigurationPlan) treeprint.Tree {
	tree := treeprint.NewWithRoot(name)
	onPath := make(map[int]bool)
	var add func(parent treeprint.Tree, i int)
	add = func(parent treeprint.Tree, i int) {
		label := fmt.Sprintf("#%d %s", i, p.Action(i))
		next := p.Dependents(i)
		if len(next) == 0 {
			parent.AddNode(label)
			return
		}
		if onPath[i] {
			parent.AddNode(label + " (cycle)")
			return
		}
		onPath[i] = true
		branch := parent.AddBranch(label)
		for _, j := range next {
			add(branch, j)
		}
		onPath[i] = false
	}
	for _, i := range p.Roots() {
		add(tree, i)
	}
	return tree
}
