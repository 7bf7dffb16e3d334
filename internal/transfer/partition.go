package transfer

// FileTask is one regular file queued for transfer.
type FileTask struct {
	Path string // absolute path on the sender
	Size int64
	Name string // name announced to the receiver
}

// Assignment is the ordered set of files one sender worker owns for the
// lifetime of its connection.
type Assignment struct {
	Index int
	Tasks []FileTask
}

// TotalBytes returns the sum of task sizes.
func (a Assignment) TotalBytes() int64 {
	var total int64
	for _, t := range a.Tasks {
		total += t.Size
	}
	return total
}

// EffectiveConcurrency clamps the requested worker count to [1, fileCount].
// It returns 0 when there are no files.
func EffectiveConcurrency(requested, fileCount int) int {
	if fileCount <= 0 {
		return 0
	}
	if requested < 1 {
		requested = 1
	}
	if requested > fileCount {
		return fileCount
	}
	return requested
}

// StrideCount returns how many of n files worker i receives when files are
// striped round-robin across c workers.
func StrideCount(n, c, i int) int {
	if n <= 0 || c <= 0 || i < 0 || i >= c {
		return 0
	}
	count := n / c
	if i < n%c {
		count++
	}
	return count
}

// Partition stripes tasks round-robin across the effective number of workers:
// worker i owns indices i, i+c, i+2c, ... in enumeration order. Every task
// lands in exactly one assignment and no assignment is empty.
func Partition(tasks []FileTask, requested int) []Assignment {
	c := EffectiveConcurrency(requested, len(tasks))
	if c == 0 {
		return nil
	}
	out := make([]Assignment, c)
	for i := range out {
		out[i] = Assignment{
			Index: i,
			Tasks: make([]FileTask, 0, StrideCount(len(tasks), c, i)),
		}
	}
	for idx, task := range tasks {
		a := &out[idx%c]
		a.Tasks = append(a.Tasks, task)
	}
	return out
}
