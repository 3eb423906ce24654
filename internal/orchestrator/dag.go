package orchestrator

import (
	"fmt"
	"sort"
)

// Build validates tasks against members and constructs the node graph.
// It performs, in order: duplicate-ID rejection, node creation, edge
// resolution, assignee validation, cycle detection via Kahn's algorithm,
// and an initial readiness pass. order preserves the declared task order
// for reporting purposes (dagInfo).
func Build(tasks []TeamTask, members map[string]TeamMember) (nodes map[string]*DagNode, order []string, err error) {
	nodes = make(map[string]*DagNode, len(tasks))
	order = make([]string, 0, len(tasks))

	for _, t := range tasks {
		if _, dup := nodes[t.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate task id: %q", t.ID)
		}
		nodes[t.ID] = &DagNode{
			Task:      t,
			DependsOn: append([]string(nil), t.Depends...),
			Status:    StatusPending,
		}
		order = append(order, t.ID)
	}

	for id, n := range nodes {
		for _, dep := range n.DependsOn {
			target, ok := nodes[dep]
			if !ok {
				return nil, nil, fmt.Errorf("task %q depends on unknown task %q", id, dep)
			}
			target.DependedBy = append(target.DependedBy, id)
		}
	}

	for id, n := range nodes {
		if n.Task.Assignee != "" {
			if _, ok := members[n.Task.Assignee]; !ok {
				return nil, nil, fmt.Errorf("task %q references unknown member %q", id, n.Task.Assignee)
			}
			assignee := members[n.Task.Assignee]
			n.Assignee = &assignee
		}
		if n.Task.Review != nil {
			if _, ok := members[n.Task.Review.Assignee]; !ok {
				return nil, nil, fmt.Errorf("task %q review references unknown member %q", id, n.Task.Review.Assignee)
			}
		}
	}

	if err := checkAcyclic(nodes); err != nil {
		return nil, nil, err
	}

	updateReadiness(nodes)

	return nodes, order, nil
}

// checkAcyclic runs Kahn's algorithm over the in-degree count derived
// from DependsOn. If fewer than len(nodes) nodes are visited, every
// residual node (in-degree still > 0) is reported: those on a cycle and
// those that depend, directly or transitively, on a cycle.
func checkAcyclic(nodes map[string]*DagNode) error {
	indeg := make(map[string]int, len(nodes))
	for id, n := range nodes {
		indeg[id] = len(n.DependsOn)
	}

	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range nodes[id].DependedBy {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if visited == len(nodes) {
		return nil
	}

	var cyclic []string
	for id, d := range indeg {
		if d > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return fmt.Errorf("dependency cycle detected involving tasks: %v", cyclic)
}

// updateReadiness recomputes pending->blocked/ready transitions. It never
// touches nodes past the pending state.
func updateReadiness(nodes map[string]*DagNode) {
	for _, n := range nodes {
		if n.Status != StatusPending {
			continue
		}
		anyFailed := false
		allCompleted := true
		for _, dep := range n.DependsOn {
			d := nodes[dep]
			if d.Status == StatusFailed || d.Status == StatusBlocked {
				anyFailed = true
			}
			if d.Status != StatusCompleted {
				allCompleted = false
			}
		}
		switch {
		case anyFailed:
			n.Status = StatusBlocked
		case allCompleted:
			n.Status = StatusReady
		}
	}
}

// readyNodes returns, in a stable order, the IDs of every node currently
// Ready, up to max (max <= 0 means unlimited).
func readyNodes(nodes map[string]*DagNode, order []string, max int) []string {
	var ready []string
	for _, id := range order {
		if nodes[id].Status == StatusReady {
			ready = append(ready, id)
			if max > 0 && len(ready) >= max {
				break
			}
		}
	}
	return ready
}
