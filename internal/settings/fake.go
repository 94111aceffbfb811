package settings

// FakeStore keeps Settings in memory for tests.
type FakeStore struct {
	Current Settings

	// Saves records every Save call.
	Saves []Settings

	// LoadError and SaveError, if set, are returned by Load and Save.
	LoadError error
	SaveError error
}

// NewFakeStore creates a FakeStore holding s.
func NewFakeStore(s Settings) *FakeStore {
	return &FakeStore{Current: s}
}

// Load returns the current settings.
func (f *FakeStore) Load() (Settings, error) {
	if f.LoadError != nil {
		return Settings{DebounceMs: DefaultDebounceMs}, f.LoadError
	}
	return f.Current, nil
}

// Save records s.
func (f *FakeStore) Save(s Settings) error {
	if f.SaveError != nil {
		return f.SaveError
	}
	f.Current = s
	f.Saves = append(f.Saves, s)
	return nil
}
