// Command procdemo spawns worker processes that each receive the write
// end of a pipe and a job over the bootstrap frame, stream bytes
// through the pipe and report a digest back on a typed channel whose
// sending endpoint itself travelled inside the job.
package main

import (
	"crypto/rand"
	"fmt"
	"hash/crc64"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/procchan/procchan/channel"
	"github.com/procchan/procchan/object"
	"github.com/procchan/procchan/pkg/handle"
	"github.com/procchan/procchan/spawn"
)

type config struct {
	Workers     int  `envconfig:"WORKERS" default:"4"`
	PayloadSize int  `envconfig:"PAYLOAD_SIZE" default:"65536"`
	Development bool `envconfig:"LOG_DEV" default:"false"`
}

// job is what each worker receives: identity, payload, the write end
// of a pipe and the sending half of the result channel.
type job struct {
	ID      object.String
	Payload object.Bytes
	PipeW   *handle.Handle
	Results *channel.Sender[digest, *digest]
}

func (j *job) Flatten(e *object.Encoder) {
	j.ID.Flatten(e)
	j.Payload.Flatten(e)
	e.Handle(j.PipeW)
	j.Results.Flatten(e)
}

func (j *job) Unflatten(d *object.Decoder) error {
	if err := j.ID.Unflatten(d); err != nil {
		return err
	}
	if err := j.Payload.Unflatten(d); err != nil {
		return err
	}
	j.PipeW = d.Handle()
	if err := d.Err(); err != nil {
		return err
	}
	j.Results = new(channel.Sender[digest, *digest])
	return j.Results.Unflatten(d)
}

type digest struct {
	ID  object.String
	Sum uint64
}

func (g *digest) Flatten(e *object.Encoder) {
	g.ID.Flatten(e)
	e.Uint64(g.Sum)
}

func (g *digest) Unflatten(d *object.Decoder) error {
	if err := g.ID.Unflatten(d); err != nil {
		return err
	}
	g.Sum = d.Uint64()
	return d.Err()
}

var crcTable = crc64.MakeTable(crc64.ECMA)

var digestTask = spawn.Func[job, *job, object.Empty, *object.Empty](
	"digest", func(j job) (object.Empty, error) {
		defer j.Results.Close()
		w, err := j.PipeW.File("pipe-w")
		if err != nil {
			return object.Empty{}, err
		}
		if _, err := w.Write(j.Payload); err != nil {
			w.Close()
			return object.Empty{}, err
		}
		w.Close()
		return object.Empty{}, j.Results.Send(digest{
			ID:  j.ID,
			Sum: crc64.Checksum(j.Payload, crcTable),
		})
	})

func main() {
	spawn.Init()

	var cfg config
	if err := envconfig.Process("procdemo", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	for i := 0; i < cfg.Workers; i++ {
		if err := runOne(logger, cfg.PayloadSize); err != nil {
			logger.Fatal("worker failed", zap.Error(err))
		}
	}
	logger.Info("all workers done", zap.Int("workers", cfg.Workers))
}

func newLogger(cfg config) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runOne(logger *zap.Logger, payloadSize int) error {
	id := uuid.NewString()
	payload := make([]byte, payloadSize)
	if _, err := rand.Read(payload); err != nil {
		return err
	}
	want := crc64.Checksum(payload, crcTable)

	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	defer pr.Close()

	wh, err := handle.FromFile(pw)
	pw.Close()
	if err != nil {
		return err
	}

	tx, rx, err := channel.New[digest, *digest]()
	if err != nil {
		wh.Close()
		return err
	}
	defer rx.Close()

	c, err := digestTask.Spawn(job{
		ID:      object.String(id),
		Payload: object.Bytes(payload),
		PipeW:   wh,
		Results: tx,
	})
	if err != nil {
		return err
	}
	logger.Info("spawned worker", zap.String("job", id), zap.Int("pid", c.Pid()))

	echoed, err := io.ReadAll(pr)
	if err != nil {
		return err
	}

	res, err := rx.Recv()
	if err != nil {
		return err
	}
	if _, err := c.Join(); err != nil {
		return err
	}

	if string(res.ID) != id || res.Sum != want || crc64.Checksum(echoed, crcTable) != want {
		return fmt.Errorf("job %s: digest mismatch", id)
	}
	logger.Info("job verified",
		zap.String("job", id),
		zap.Uint64("crc64", res.Sum),
		zap.Int("bytes", len(echoed)))
	return nil
}
