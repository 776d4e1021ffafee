package planner

import (
	"context"
	"sort"
	"time"

	"github.com/harrisonrobin/planhub/pkg/model"
)

// Stats feeds the dashboard charts. The category slices are parallel to
// Categories.
type Stats struct {
	TotalTasks          int      `json:"total_tasks"`
	Categories          []string `json:"categories"`
	CompletedByCategory []int    `json:"completed_by_category"`
	TotalByCategory     []int    `json:"total_by_category"`
	TimelineDates       []string `json:"timeline_dates"`
	TimelineCompleted   []int    `json:"timeline_completed"`
}

// Stats counts owner's tasks per category and completed tasks per
// reminder date in the reference timezone.
func (s *Service) Stats(ctx context.Context, owner string) (Stats, error) {
	tasks, err := s.List(ctx, owner, nil)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(tasks, s.Location()), nil
}

// Summarize computes Stats over tasks.
func Summarize(tasks []model.Task, loc *time.Location) Stats {
	total := make(map[string]int)
	completed := make(map[string]int)
	timeline := make(map[string]int)

	for _, t := range tasks {
		cat := model.NormalizeCategory(t.Category)
		total[cat]++
		if !t.Completed {
			continue
		}
		completed[cat]++
		if t.HasReminder() {
			timeline[t.ReminderAt.In(loc).Format("2006-01-02")]++
		}
	}

	st := Stats{
		TotalTasks:          len(tasks),
		Categories:          append([]string(nil), model.Categories...),
		CompletedByCategory: make([]int, len(model.Categories)),
		TotalByCategory:     make([]int, len(model.Categories)),
		TimelineDates:       make([]string, 0, len(timeline)),
		TimelineCompleted:   make([]int, 0, len(timeline)),
	}
	for i, c := range model.Categories {
		st.CompletedByCategory[i] = completed[c]
		st.TotalByCategory[i] = total[c]
	}
	for d := range timeline {
		st.TimelineDates = append(st.TimelineDates, d)
	}
	sort.Strings(st.TimelineDates)
	for _, d := range st.TimelineDates {
		st.TimelineCompleted = append(st.TimelineCompleted, timeline[d])
	}
	return st
}
