package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/clipforge/capture/internal/logger"
)

// mixInterval is the cadence of the mixing loop
const mixInterval = 20 * time.Millisecond

// starveLimit is how many queued samples a live input may accumulate before
// a silent input is treated as starved and padded with silence.
const starveLimit = SampleRate / 10 // 100 ms

// CombineStreams mixes two or more PCM streams into one by sample summation
// with clamping. All inputs must share a channel count.
//
// The returned cleanup tears down the mixing graph (the mixing goroutine and
// the output channel). It does NOT clean up the input streams, which remain
// owned by the caller. Skipping the cleanup leaks the goroutine, so it is a
// resource leak rather than just untidy.
func CombineStreams(streams ...*Stream) (*Stream, func(), error) {
	if len(streams) < 2 {
		return nil, nil, fmt.Errorf("combining requires at least 2 streams, got %d", len(streams))
	}
	channels := streams[0].Channels
	for _, s := range streams[1:] {
		if s.Channels != channels {
			return nil, nil, fmt.Errorf("channel count mismatch: %d vs %d", channels, s.Channels)
		}
	}

	out := make(chan []int16, 64)
	done := make(chan struct{})

	var mu sync.Mutex
	queues := make([][]int16, len(streams))

	var wg sync.WaitGroup
	for i, s := range streams {
		wg.Add(1)
		go func(idx int, in <-chan []int16) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case pcm, ok := <-in:
					if !ok {
						return
					}
					mu.Lock()
					queues[idx] = append(queues[idx], pcm...)
					mu.Unlock()
				}
			}
		}(i, s.Samples)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(mixInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				// Final drain so samples arriving just before cleanup
				// are not lost.
				if mixed := mixOnce(&mu, queues, true); len(mixed) > 0 {
					select {
					case out <- mixed:
					default:
					}
				}
				return
			case <-ticker.C:
				mixed := mixOnce(&mu, queues, false)
				if len(mixed) == 0 {
					continue
				}
				select {
				case out <- mixed:
				default:
					// Consumer lagging, drop
				}
			}
		}
	}()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			close(out)
			logger.WithComponent("audio-mixer").Debug().
				Int("inputs", len(streams)).
				Msg("Mixing graph released")
		})
	}

	return &Stream{
		Samples:    out,
		Channels:   channels,
		SampleRate: SampleRate,
		Source:     "combined",
	}, cleanup, nil
}

// mixOnce sums the oldest n samples of every queue, where n is the shortest
// queue length. When one input starves while another backs up past the
// starve limit (or on the final drain), empty inputs contribute silence.
func mixOnce(mu *sync.Mutex, queues [][]int16, drain bool) []int16 {
	mu.Lock()
	defer mu.Unlock()

	shortest, longest := -1, 0
	for _, q := range queues {
		if shortest < 0 || len(q) < shortest {
			shortest = len(q)
		}
		if len(q) > longest {
			longest = len(q)
		}
	}

	n := shortest
	if n == 0 && (drain || longest > starveLimit) {
		n = longest
	}
	if n == 0 {
		return nil
	}

	mixed := make([]int16, n)
	for i, q := range queues {
		m := n
		if len(q) < m {
			m = len(q)
		}
		for j := 0; j < m; j++ {
			mixed[j] = clampAdd(mixed[j], q[j])
		}
		queues[i] = q[m:]
	}
	return mixed
}

func clampAdd(a, b int16) int16 {
	v := int32(a) + int32(b)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
