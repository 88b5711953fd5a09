package generator

import (
	"fmt"
	"time"
)

// State is the position of a Session in the interview.
type State int

const (
	StateBegin State = iota
	StateCheckForMore
	StateWriteArticle
	StateDone
)

var stateNames = [...]string{
	StateBegin:        "Begin",
	StateCheckForMore: "CheckForMore",
	StateWriteArticle: "WriteArticle",
	StateDone:         "Done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("unknown state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(text))
}

// transitions lists every legal move. CheckForMore loops on itself without a
// transition, so it does not appear as its own target.
var transitions = map[State]State{
	StateBegin:        StateCheckForMore,
	StateCheckForMore: StateWriteArticle,
	StateWriteArticle: StateDone,
}

// Session 持有一次采访的全部上下文：状态、轮次、对话和成稿。
type Session struct {
	ID    string `json:"id"`
	State State  `json:"state"`
	// Steps counts refinement rounds since the current state was entered.
	Steps     int         `json:"steps"`
	Log       DialogueLog `json:"log"`
	Article   *Article    `json:"article,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		State:     StateBegin,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// enter moves the session to the next state and resets the step counter.
func (s *Session) enter(to State) error {
	if next, ok := transitions[s.State]; !ok || next != to {
		return fmt.Errorf("illegal transition %s -> %s", s.State, to)
	}
	s.State = to
	s.Steps = 0
	return nil
}

func (s *Session) Done() bool { return s.State == StateDone }

// Transcript is the full, ordered chat as shown to the user.
func (s *Session) Transcript() []Turn { return s.Log.Turns(Full) }

func (s *Session) clone() *Session {
	c := *s
	c.Log = s.Log.clone()
	if s.Article != nil {
		a := *s.Article
		c.Article = &a
	}
	return &c
}

// Outcome is what a render sink needs after a submission.
type Outcome struct {
	SessionID  string
	Transcript []Turn
	State      State
	Steps      int
	// Changed is false when the submission was ignored.
	Changed bool
	// ShowArticle tells the sink to replace the chat view with the article.
	ShowArticle bool
	Article     *Article
}

func (s *Session) Outcome(changed bool) Outcome {
	return Outcome{
		SessionID:   s.ID,
		Transcript:  s.Transcript(),
		State:       s.State,
		Steps:       s.Steps,
		Changed:     changed,
		ShowArticle: s.Done(),
		Article:     s.Article,
	}
}
