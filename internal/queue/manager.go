package queue

// Job is one host file or directory to be copied into an image.
type Job struct {
	HostPath  string
	ImagePath string
	Dir       bool
	Mode      uint16
	Size      int64

	// Digest is the BLAKE3 sum of the host bytes, set once copied.
	Digest [32]byte
}

// Manager holds the queues of one import.
type Manager struct {
	Directories *Queue[*Job]
	Files       *Queue[*Job]
	Verify      *Queue[*Job]
}

// NewManager returns a pointer to a new [Manager] with empty queues.
func NewManager() *Manager {
	return &Manager{
		Directories: New[*Job](),
		Files:       New[*Job](),
		Verify:      New[*Job](),
	}
}

// Enqueue sorts jobs into the directory and file queues.
func (m *Manager) Enqueue(jobs ...*Job) {
	for _, job := range jobs {
		if job.Dir {
			m.Directories.Enqueue(job)
		} else {
			m.Files.Enqueue(job)
		}
	}
}
