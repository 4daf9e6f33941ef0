package parser

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// ParallelParser splits the decompressed stream into chunks of ChunkSize
// data lines and parses chunks on a worker pool, delivering batches in
// file order. It produces exactly the batches of CSVParser for inputs
// without quoted line breaks, which Gaia archive files never contain.
type ParallelParser struct {
	logger     *zap.Logger
	numWorkers int
}

// NewParallelParser creates the parallel backend (0 workers = NumCPU).
func NewParallelParser(numWorkers int, logger *zap.Logger) *ParallelParser {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &ParallelParser{
		logger:     logger.With(zap.String("parser", BackendParallel)),
		numWorkers: numWorkers,
	}
}

// Name returns the backend name.
func (p *ParallelParser) Name() string { return BackendParallel }

// csvChunk represents a chunk of raw lines to be parsed
type csvChunk struct {
	id    int
	lines int
	data  []byte
}

type chunkResult struct {
	id    int
	batch models.Batch
	err   error
}

// Parse reads the header synchronously, then starts the chunk reader and
// the worker pool.
func (p *ParallelParser) Parse(ctx context.Context, src Source, opts Options) (Iterator, error) {
	s, err := open(src, opts.Compression)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(s, 256*1024)
	header, err := readHeaderLine(br)
	if err == io.EOF {
		_ = s.Close()
		return &parallelIterator{done: true}, nil
	}
	if err != nil {
		_ = s.Close()
		return nil, wrapReadError(err, src.Name)
	}

	fields, err := newCSVReader(bytes.NewReader(header), ',').Read()
	if err != nil {
		_ = s.Close()
		return nil, wrapReadError(err, src.Name)
	}
	proj, err := resolveHeader(src.Name, fields, opts.Columns, p.logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	it := &parallelIterator{
		ctx:     ctx,
		cancel:  cancel,
		stream:  s,
		results: make(chan chunkResult, p.numWorkers*2),
		pending: make(map[int]chunkResult),
	}

	chunks := make(chan csvChunk, p.numWorkers*2)
	it.wg.Add(1 + p.numWorkers)
	go it.readChunks(br, opts.chunkSize(), chunks)
	for i := 0; i < p.numWorkers; i++ {
		go it.parseWorker(proj, chunks)
	}
	go func() {
		it.wg.Wait()
		close(it.results)
	}()

	return it, nil
}

// readHeaderLine returns the first line that is neither empty nor a comment.
func readHeaderLine(br *bufio.Reader) ([]byte, error) {
	for {
		line, err := br.ReadBytes('\n')
		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) > 0 && trimmed[0] != CommentMarker {
			return trimmed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

type parallelIterator struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stream  *stream
	wg      sync.WaitGroup
	results chan chunkResult

	pending map[int]chunkResult
	nextID  int
	done    bool
	err     error
}

// readChunks reads the input and creates chunks for parallel processing
func (it *parallelIterator) readChunks(br *bufio.Reader, chunkSize int, chunks chan<- csvChunk) {
	defer it.wg.Done()
	defer close(chunks)

	id := 0
	current := csvChunk{id: id}
	send := func() bool {
		select {
		case chunks <- current:
			id++
			current = csvChunk{id: id}
			return true
		case <-it.ctx.Done():
			return false
		}
	}

	for {
		line, err := br.ReadBytes('\n')
		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) > 0 && trimmed[0] != CommentMarker {
			current.data = append(current.data, trimmed...)
			current.data = append(current.data, '\n')
			current.lines++
			if current.lines >= chunkSize && !send() {
				return
			}
		}

		if err == io.EOF {
			if current.lines > 0 {
				send()
			}
			return
		}
		if err != nil {
			// deliver the failure in order, after every complete chunk
			select {
			case it.results <- chunkResult{id: id, err: wrapReadError(err, it.stream.name)}:
			case <-it.ctx.Done():
			}
			return
		}
	}
}

// parseWorker processes chunks until the reader closes the channel
func (it *parallelIterator) parseWorker(proj *projection, chunks <-chan csvChunk) {
	defer it.wg.Done()

	for chunk := range chunks {
		res := chunkResult{id: chunk.id}
		reader := newCSVReader(bytes.NewReader(chunk.data), ',')
		batch := make(models.Batch, 0, chunk.lines)
		for {
			fields, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				res.err = errors.Wrapf(err, errors.ErrorTypeData, "failed to parse chunk %d of %s", chunk.id, it.stream.name)
				break
			}
			batch = append(batch, proj.record(fields))
		}
		if res.err == nil {
			res.batch = batch
		}

		select {
		case it.results <- res:
		case <-it.ctx.Done():
			return
		}
	}
}

// Next returns the batch for the next chunk id, buffering out-of-order results.
func (it *parallelIterator) Next() (models.Batch, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.done {
		return nil, io.EOF
	}

	for {
		if res, ok := it.pending[it.nextID]; ok {
			delete(it.pending, it.nextID)
			it.nextID++
			if res.err != nil {
				it.err = res.err
				it.cancel()
				return nil, res.err
			}
			return res.batch, nil
		}

		select {
		case res, ok := <-it.results:
			if !ok {
				it.done = true
				return nil, io.EOF
			}
			it.pending[res.id] = res
		case <-it.ctx.Done():
			it.err = it.ctx.Err()
			return nil, it.err
		}
	}
}

// Close stops the reader and workers and releases the source. Closing the
// raw source first unblocks a reader waiting on the network.
func (it *parallelIterator) Close() error {
	it.done = true
	if it.stream == nil {
		return nil
	}
	it.cancel()
	err := it.stream.closeRaw()
	it.wg.Wait()
	if closeErr := it.stream.Close(); err == nil {
		err = closeErr
	}
	return err
}
