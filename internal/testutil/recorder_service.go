package testutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
)

// FakeRecorderService implements ports.RecorderService.
type FakeRecorderService struct {
	Recording bool
	ID        uuid.UUID
	Log       []recorder.Entry
	Last      *recorder.Session

	StartCalled bool
	StartErr    error
	StopCalled  bool
	StopErr     error
}

func NewFakeRecorderService() *FakeRecorderService {
	return &FakeRecorderService{ID: uuid.MustParse("0b6a3f8e-1c2d-4e5f-8a9b-0c1d2e3f4a5b")}
}

func (f *FakeRecorderService) Start() (uuid.UUID, error) {
	f.StartCalled = true
	if f.StartErr != nil {
		return uuid.Nil, f.StartErr
	}
	f.Recording = true
	f.Log = []recorder.Entry{
		{Type: recorder.EventSessionStart, Description: "Recording started."},
		{Type: recorder.EventInitialState, Description: "Baseline metrics captured."},
	}
	return f.ID, nil
}

func (f *FakeRecorderService) Stop(context.Context) (recorder.Session, error) {
	f.StopCalled = true
	if !f.Recording {
		return recorder.Session{}, recorder.ErrNotRecording
	}
	f.Recording = false
	f.Log = append(f.Log, recorder.Entry{Type: recorder.EventSessionEnd, Description: "Recording stopped."})
	s := recorder.Session{ID: f.ID, Entries: f.Log}
	f.Last = &s
	return s, f.StopErr
}

func (f *FakeRecorderService) Active() bool { return f.Recording }

func (f *FakeRecorderService) Entries() []recorder.Entry { return f.Log }

func (f *FakeRecorderService) LastSession() (recorder.Session, error) {
	if f.Last == nil {
		return recorder.Session{}, recorder.ErrNoSession
	}
	return *f.Last, nil
}
