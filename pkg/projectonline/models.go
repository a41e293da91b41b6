// Package projectonline extracts a project and its tasks, resources, and
// assignments from the Project Online reporting OData endpoint. Records are
// decoded into typed structs and validated at the boundary; malformed records
// fail extraction instead of propagating untyped data downstream.
package projectonline

// LinkType is the dependency type of a predecessor link, using the reporting
// schema's numeric encoding.
type LinkType int

const (
	LinkFinishToFinish LinkType = 0
	LinkFinishToStart  LinkType = 1
	LinkStartToFinish  LinkType = 2
	LinkStartToStart   LinkType = 3
)

// Notation returns the destination's two-letter marker for the link type.
func (lt LinkType) Notation() string {
	switch lt {
	case LinkFinishToFinish:
		return "FF"
	case LinkFinishToStart:
		return "FS"
	case LinkStartToFinish:
		return "SF"
	case LinkStartToStart:
		return "SS"
	default:
		return "FS"
	}
}

// ResourceType is the reporting schema's numeric resource kind.
type ResourceType int

const (
	ResourceTypeWork     ResourceType = 2
	ResourceTypeMaterial ResourceType = 4
	ResourceTypeCost     ResourceType = 8
)

// String returns the human-readable resource kind.
func (rt ResourceType) String() string {
	switch rt {
	case ResourceTypeWork:
		return "Work"
	case ResourceTypeMaterial:
		return "Material"
	case ResourceTypeCost:
		return "Cost"
	default:
		return "Work"
	}
}

// Project is the immutable project snapshot taken at extraction time.
type Project struct {
	ID              string  `json:"ProjectId" validate:"required"`
	Name            string  `json:"ProjectName" validate:"required"`
	Owner           string  `json:"ProjectOwnerName"`
	StartDate       string  `json:"ProjectStartDate"`
	FinishDate      string  `json:"ProjectFinishDate"`
	Status          string  `json:"ProjectStatus"`
	PercentComplete float64 `json:"ProjectPercentCompleted" validate:"gte=0,lte=100"`
}

// Predecessor is one dependency of a task on another task.
type Predecessor struct {
	TaskID string   `json:"PredecessorTaskId" validate:"required"`
	Type   LinkType `json:"LinkType" validate:"gte=0,lte=3"`
	// LagHours is the dependency lag in hours; negative means lead.
	LagHours float64 `json:"LagHours"`
}

// Task is one row of the project's hierarchical task list.
type Task struct {
	ID              string  `json:"TaskId" validate:"required"`
	Name            string  `json:"TaskName" validate:"required"`
	OutlineLevel    int     `json:"TaskOutlineLevel" validate:"gte=1"`
	ParentID        *string `json:"ParentTaskId"`
	Duration        string  `json:"TaskDuration"`
	Work            string  `json:"TaskWork"`
	PercentComplete float64 `json:"TaskPercentCompleted" validate:"gte=0,lte=100"`
	IsMilestone     bool    `json:"TaskIsMilestone"`

	Predecessors []Predecessor `json:"Predecessors" validate:"dive"`

	ConstraintType string `json:"TaskConstraintType"`
	ConstraintDate string `json:"TaskConstraintDate"`

	// Critical-path fields.
	LateStart  string `json:"TaskLateStart"`
	LateFinish string `json:"TaskLateFinish"`
	TotalSlack string `json:"TaskTotalSlack"`
	FreeSlack  string `json:"TaskFreeSlack"`
}

// Resource is one assignable resource of the project.
type Resource struct {
	ID       string       `json:"ResourceId" validate:"required"`
	Name     string       `json:"ResourceName" validate:"required"`
	Type     ResourceType `json:"ResourceType"`
	Rate     float64      `json:"ResourceStandardRate" validate:"gte=0"`
	MaxUnits float64      `json:"ResourceMaxUnits" validate:"gte=0"`
	Group    string       `json:"ResourceGroup"`
}

// Assignment links a resource to a task with an allocation.
type Assignment struct {
	ID         string `json:"AssignmentId" validate:"required"`
	TaskID     string `json:"TaskId" validate:"required"`
	ResourceID string `json:"ResourceId" validate:"required"`
	// Units is the allocation as a fraction of capacity (1.0 = 100%).
	Units           float64 `json:"AssignmentUnits" validate:"gte=0"`
	Work            string  `json:"AssignmentWork"`
	PercentComplete float64 `json:"AssignmentPercentWorkCompleted" validate:"gte=0,lte=100"`
}

// Batch is the complete extraction result for one project.
type Batch struct {
	Project     Project
	Tasks       []Task
	Resources   []Resource
	Assignments []Assignment
}
