package pipeline

import (
	"encoding/xml"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

// TaskStatus is the status of a job's active task.
type TaskStatus string

const (
	TaskWaiting  TaskStatus = "waiting"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskError    TaskStatus = "error"
)

// BackgroundInfo is the opaque execution context a job was created with.
type BackgroundInfo struct {
	Container string `xml:"container,omitempty" json:"container,omitempty"`
	User      string `xml:"user,omitempty" json:"user,omitempty"`
	URL       string `xml:"url,omitempty" json:"url,omitempty"`
}

// JobState is everything about a job that survives a checkpoint.
type JobState struct {
	XMLName           xml.Name         `xml:"job"`
	GUID              string           `xml:"guid,attr"`
	ParentGUID        string           `xml:"parentGuid,attr,omitempty"`
	JobType           string           `xml:"type,attr"`
	Provider          string           `xml:"provider,omitempty"`
	Info              BackgroundInfo   `xml:"info"`
	PipelineRoot      string           `xml:"root,omitempty"`
	LogFile           string           `xml:"logFile,omitempty"`
	Params            []Param          `xml:"params>param"`
	ActiveTaskID      TaskID           `xml:"activeTask"`
	ActiveTaskStatus  TaskStatus       `xml:"activeTaskStatus"`
	ActiveTaskRetries int              `xml:"activeTaskRetries"`
	Errors            int              `xml:"errors"`
	Splittable        bool             `xml:"splittable"`
	Joined            bool             `xml:"joined"`
	SplitCount        int              `xml:"splitCount"`
	Actions           []RecordedAction `xml:"actions>action"`
	Created           time.Time        `xml:"created"`
}

func (s JobState) clone() JobState {
	c := s
	c.Params = append([]Param(nil), s.Params...)
	c.Actions = append([]RecordedAction(nil), s.Actions...)
	return c
}

// ToXML serializes the job's state as a checkpoint document.
func ToXML(job *Job) ([]byte, error) {
	body, err := xml.MarshalIndent(job.state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job %s: %w", job.state.GUID, err)
	}
	return append([]byte(xml.Header), body...), nil
}

// FromXML rebuilds a job from a checkpoint document.
func FromXML(svc *Service, data []byte) (*Job, error) {
	var st JobState
	if err := xml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal job checkpoint: %w", err)
	}
	if st.GUID == "" {
		return nil, fmt.Errorf("unmarshal job checkpoint: missing guid")
	}
	if st.ActiveTaskStatus == "" {
		st.ActiveTaskStatus = TaskWaiting
	}
	jt, err := svc.Registry.JobType(st.JobType)
	if err != nil {
		return nil, fmt.Errorf("restore job %s: %w", st.GUID, err)
	}
	return newJob(svc, jt, st)
}

func paramsFromMap(m map[string]string) []Param {
	out := make([]Param, 0, len(m))
	for k, v := range m {
		out = append(out, Param{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validateParams rejects names and values the checkpoint XML cannot carry.
// encoding/xml would silently replace such characters with U+FFFD.
func validateParams(m map[string]string) error {
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidParam)
		}
		if !isXMLText(k) {
			return fmt.Errorf("%w: name %q", ErrInvalidParam, k)
		}
		if !isXMLText(v) {
			return fmt.Errorf("%w: value of %q", ErrInvalidParam, k)
		}
	}
	return nil
}

// isXMLText reports whether s is valid UTF-8 made only of XML 1.0 characters.
func isXMLText(s string) bool {
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				return false
			}
		}
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}

func paramsToMap(ps []Param) map[string]string {
	m := make(map[string]string, len(ps))
	for _, p := range ps {
		m[p.Name] = p.Value
	}
	return m
}
