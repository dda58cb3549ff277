package ftpgate

import "io"

// ProgressReader wraps an io.Reader and reports the running byte count.
// Wrap the source passed to Store to observe upload progress.
type ProgressReader struct {
	Reader io.Reader

	// Callback receives the total bytes read so far after every non-empty Read.
	Callback func(total int64)

	total int64
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.total += int64(n)
		if pr.Callback != nil {
			pr.Callback(pr.total)
		}
	}
	return n, err
}

// Total returns the number of bytes read so far.
func (pr *ProgressReader) Total() int64 { return pr.total }

// ProgressWriter is the download-side counterpart of ProgressReader.
type ProgressWriter struct {
	Writer io.Writer

	Callback func(total int64)

	total int64
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if n > 0 {
		pw.total += int64(n)
		if pw.Callback != nil {
			pw.Callback(pw.total)
		}
	}
	return n, err
}

// Total returns the number of bytes written so far.
func (pw *ProgressWriter) Total() int64 { return pw.total }
