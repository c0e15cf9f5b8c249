package cluster

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/dmitrijs2005/clusterapi/internal/common"
)

// WorkerLink is the worker's end of the supervisor connection.
type WorkerLink struct {
	ID       int
	Listener net.Listener
	Commands *Receiver
	Reports  *Sender

	files []*os.File
}

// WorkerID returns the id passed by the supervisor and whether this process
// runs as a supervised worker at all.
func WorkerID() (int, bool) {
	v, ok := os.LookupEnv(common.WorkerIDEnv)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return id, true
}

// AttachWorker opens the inherited listener and pipes.
func AttachWorker(id int) (*WorkerLink, error) {
	lf := os.NewFile(ListenerFD, "listener")
	cf := os.NewFile(CommandFD, "commands")
	rf := os.NewFile(ReportFD, "reports")
	ln, err := net.FileListener(lf)
	if err != nil {
		_ = cf.Close()
		_ = rf.Close()
		return nil, fmt.Errorf("inherited listener: %w", err)
	}
	// FileListener dups the descriptor
	_ = lf.Close()

	return &WorkerLink{
		ID:       id,
		Listener: ln,
		Commands: NewReceiver(cf),
		Reports:  NewSender(rf),
		files:    []*os.File{cf, rf},
	}, nil
}

// Close releases both pipes. The listener is owned by the HTTP server.
func (l *WorkerLink) Close() error {
	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
