package pipeline

import "time"

// Param is a named string value, used for job params and action params.
type Param struct {
	Name  string `xml:"name,attr" json:"name"`
	Value string `xml:",chardata" json:"value"`
}

// RecordedAction is one action a task performed, with the files it consumed
// and produced.
type RecordedAction struct {
	Name        string    `xml:"name,attr" json:"name"`
	Description string    `xml:"description,omitempty" json:"description,omitempty"`
	Inputs      []string  `xml:"input" json:"inputs,omitempty"`
	Outputs     []string  `xml:"output" json:"outputs,omitempty"`
	Params      []Param   `xml:"param" json:"params,omitempty"`
	Start       time.Time `xml:"start" json:"start"`
	End         time.Time `xml:"end" json:"end"`
}

// RecordedActionSet is an append-only collection of recorded actions.
type RecordedActionSet struct {
	actions []RecordedAction
}

func NewRecordedActionSet(actions ...RecordedAction) *RecordedActionSet {
	s := &RecordedActionSet{}
	for _, a := range actions {
		s.Add(a)
	}
	return s
}

func (s *RecordedActionSet) Add(a RecordedAction) {
	s.actions = append(s.actions, a)
}

// AddAll appends every action of other, in order. A nil other is ignored.
func (s *RecordedActionSet) AddAll(other *RecordedActionSet) {
	if other == nil {
		return
	}
	s.actions = append(s.actions, other.actions...)
}

func (s *RecordedActionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.actions)
}

// Actions returns a copy of the recorded actions.
func (s *RecordedActionSet) Actions() []RecordedAction {
	if s == nil {
		return nil
	}
	out := make([]RecordedAction, len(s.actions))
	copy(out, s.actions)
	return out
}

// Names lists the action names in order.
func (s *RecordedActionSet) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.actions))
	for i, a := range s.actions {
		names[i] = a.Name
	}
	return names
}
