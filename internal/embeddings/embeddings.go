package embeddings

import (
	"fmt"
	"image"
	"math"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// GridSize is the side of the pooled salience grid. Embeddings have
// GridSize*GridSize dimensions.
const GridSize = 16

// Dimensions of every embedding produced by the service
const Dimensions = GridSize * GridSize

// Result represents the result of embedding generation
type Result struct {
	Key       string
	Embedding []float32
	Error     error
}

// Work represents a unit of embedding work
type Work struct {
	Key    string
	Map    *image.Gray
	Result chan<- Result
}

// Service turns salience maps into fixed-size vectors and caches them by key
type Service struct {
	numWorkers int
	workQueue  chan Work
	cache      sync.Map // Thread-safe map for caching embeddings
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewService creates a new embedding service with the specified number of workers
func NewService(numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = 4 // Default to 4 workers if not specified
	}

	service := &Service{
		numWorkers: numWorkers,
		workQueue:  make(chan Work, 100), // Buffer size for embedding requests
	}

	service.startWorkers()
	return service
}

// startWorkers starts a pool of goroutines for generating embeddings
func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for work := range s.workQueue {
				// Check cache first
				if cached, ok := s.cache.Load(work.Key); ok {
					work.Result <- Result{Key: work.Key, Embedding: cached.([]float32)}
					continue
				}

				embedding, err := Embed(work.Map)
				if err == nil {
					s.cache.Store(work.Key, embedding)
				}
				work.Result <- Result{
					Key:       work.Key,
					Embedding: embedding,
					Error:     err,
				}
			}
		}()
	}
}

// GetEmbedding requests an embedding asynchronously. key identifies the map
// for caching.
func (s *Service) GetEmbedding(key string, m *image.Gray) <-chan Result {
	resultChan := make(chan Result, 1)

	select {
	case s.workQueue <- Work{Key: key, Map: m, Result: resultChan}:
	default:
		// Queue is full, return an error immediately
		resultChan <- Result{
			Key:   key,
			Error: fmt.Errorf("embedding queue is full, try again later"),
		}
	}

	return resultChan
}

// Embed pools m onto a GridSize x GridSize grid and L2-normalizes it. An
// all-black map yields the zero vector.
func Embed(m *image.Gray) ([]float32, error) {
	if m == nil || m.Bounds().Empty() {
		return nil, fmt.Errorf("empty salience map")
	}

	pooled := image.NewGray(image.Rect(0, 0, GridSize, GridSize))
	xdraw.ApproxBiLinear.Scale(pooled, pooled.Bounds(), m, m.Bounds(), xdraw.Src, nil)

	vec := make([]float32, Dimensions)
	var norm float64
	for i, v := range pooled.Pix {
		f := float64(v) / 255
		vec[i] = float32(f)
		norm += f * f
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// IsZero reports whether vec has no direction. Cosine distance to a zero
// vector is undefined, so such embeddings are neither stored nor searched.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// Close shuts down the embedding service and waits for all workers to finish
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.workQueue)
	})
	s.wg.Wait()
}
