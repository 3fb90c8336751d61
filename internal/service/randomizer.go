package service

import (
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"sort"
)

// seededRand 由种子字符串确定的 32 位线性同余序列，跨进程重启结果一致
type seededRand struct {
	state uint32
}

func newSeededRand(seed string) *seededRand {
	var h int32
	for _, r := range seed {
		h = h*31 + int32(r)
	}
	return &seededRand{state: uint32(h)}
}

// next 返回 [0,1) 区间的下一个值
func (r *seededRand) next() float64 {
	r.state = r.state*1664525 + 1013904223
	return float64(r.state) / 4294967296.0
}

// intn 返回 [0,n)
func (r *seededRand) intn(n int) int {
	return int(r.next() * float64(n))
}

func shuffleInts(r *seededRand, xs []int) {
	for i := len(xs) - 1; i > 0; i-- {
		j := r.intn(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}

// RandomizedQuestion 题目及其选项展示顺序（原选项下标）
type RandomizedQuestion struct {
	Question    model.Question
	OptionOrder []int
}

// DisplayOptions 按展示顺序返回选项
func (q RandomizedQuestion) DisplayOptions() []string {
	out := make([]string, len(q.OptionOrder))
	for i, idx := range q.OptionOrder {
		out[i] = q.Question.Options[idx]
	}
	return out
}

// BuildView 按种子对题库洗牌并取前 questionCount 道，再用同一序列依次打乱每道题的选项。
// questionCount <= 0 或不小于题库大小时返回全部题目。题库为空返回 ErrEmptyQuestionPool。
func BuildView(seed string, pool []model.Question, questionCount int) ([]RandomizedQuestion, error) {
	if len(pool) == 0 {
		return []RandomizedQuestion{}, util.ErrEmptyQuestionPool
	}

	r := newSeededRand(seed)
	order := make([]int, len(pool))
	for i := range order {
		order[i] = i
	}
	shuffleInts(r, order)

	n := len(pool)
	if questionCount > 0 && questionCount < n {
		n = questionCount
	}

	view := make([]RandomizedQuestion, n)
	for i := 0; i < n; i++ {
		q := pool[order[i]]
		opts := make([]int, len(q.Options))
		for k := range opts {
			opts[k] = k
		}
		shuffleInts(r, opts)
		view[i] = RandomizedQuestion{Question: q, OptionOrder: opts}
	}
	return view, nil
}

// sortPool 题库按试卷内顺序排列，保证洗牌输入稳定
func sortPool(pool []model.Question, order map[string]int) {
	sort.SliceStable(pool, func(i, j int) bool {
		oi, oj := order[pool[i].ID], order[pool[j].ID]
		if oi != oj {
			return oi < oj
		}
		return pool[i].ID < pool[j].ID
	})
}
