package polymarket

// seenSet：有界的"最近见过"集合，FIFO 淘汰。
// 只是快路径过滤（重连重放重叠区块时少打几次库），
// 正确性由 TradeStore 的幂等键兜底，这里丢了也不会重复落库。
type seenSet struct {
	cap   int
	set   map[string]struct{}
	order []string // 插入序环形队列
	head  int
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = 8192
	}
	return &seenSet{
		cap:   capacity,
		set:   make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
	}
}

// Add: 已存在返回 false；新 key 记录并在满员时淘汰最老的
func (s *seenSet) Add(key string) bool {
	if _, ok := s.set[key]; ok {
		return false
	}

	if len(s.set) >= s.cap {
		oldest := s.order[s.head]
		delete(s.set, oldest)
		s.order[s.head] = key
		s.head = (s.head + 1) % s.cap
	} else {
		s.order = append(s.order, key)
	}
	s.set[key] = struct{}{}
	return true
}

func (s *seenSet) Len() int { return len(s.set) }
