package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
)

// MemoryOrders in-memory реализация хранилища заказов.
type MemoryOrders struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*models.Order
	tx     *MemoryTxManager
}

// NewMemoryOrders создаёт пустое хранилище заказов.
func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{orders: make(map[uuid.UUID]*models.Order)}
}

func (s *MemoryOrders) bindTx(m *MemoryTxManager) { s.tx = m }

// Create сохраняет новый заказ в статусе pending без блокировки и выплаты.
func (s *MemoryOrders) Create(ctx context.Context, order *models.Order) error {
	if err := ValidateNewOrder(order); err != nil {
		return err
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now().UTC()
	order.Status = models.OrderStatusPending
	order.EscrowLocked = false
	order.PayoutDone = false
	order.CompletedAt = nil
	order.CreatedAt = now
	order.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return ErrOrderExists
	}
	cp := *order
	s.orders[order.ID] = &cp

	id := order.ID
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.orders, id)
	})
	return nil
}

// Get возвращает заказ по идентификатору.
func (s *MemoryOrders) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var (
		cp models.Order
		ok bool
	)
	err := s.tx.committed(ctx, func() {
		s.mu.RLock()
		defer s.mu.RUnlock()

		var o *models.Order
		if o, ok = s.orders[id]; ok {
			cp = *o
		}
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &cp, nil
}

// GetForUpdate совпадает с Get: сериализацию обеспечивает MemoryTxManager.
func (s *MemoryOrders) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.Get(ctx, id)
}

// UpdateStatus записывает новый статус и сопутствующие поля.
func (s *MemoryOrders) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus, upd models.OrderUpdate) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	prev := *o
	o.Apply(status, upd, time.Now().UTC())

	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		restored := prev
		s.orders[id] = &restored
	})

	cp := *o
	return &cp, nil
}

// ListForUser возвращает заказы пользователя в выбранной роли, новые первыми.
func (s *MemoryOrders) ListForUser(ctx context.Context, userID int64, role models.OrderRole) ([]models.Order, error) {
	result := []models.Order{}
	err := s.tx.committed(ctx, func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, o := range s.orders {
			var match bool
			switch role {
			case models.OrderRoleClient:
				match = o.ClientID == userID
			case models.OrderRoleProvider:
				match = o.ProviderID == userID
			default:
				match = o.ClientID == userID || o.ProviderID == userID
			}
			if match {
				result = append(result, *o)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// ListByStatus возвращает заказы в статусе, старые первыми.
func (s *MemoryOrders) ListByStatus(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	result := []models.Order{}
	err := s.tx.committed(ctx, func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, o := range s.orders {
			if o.Status == status {
				result = append(result, *o)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if offset >= len(result) {
		return []models.Order{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// MemoryOrderHistory in-memory журнал событий заказов.
type MemoryOrderHistory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]models.OrderHistory
	tx      *MemoryTxManager
}

// NewMemoryOrderHistory создаёт пустой журнал.
func NewMemoryOrderHistory() *MemoryOrderHistory {
	return &MemoryOrderHistory{entries: make(map[uuid.UUID][]models.OrderHistory)}
}

func (h *MemoryOrderHistory) bindTx(m *MemoryTxManager) { h.tx = m }

func (h *MemoryOrderHistory) Add(ctx context.Context, entry *models.OrderHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[entry.OrderID] = append(h.entries[entry.OrderID], *entry)

	orderID, id := entry.OrderID, entry.ID
	onRollback(ctx, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.entries[orderID]
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].ID == id {
				h.entries[orderID] = append(list[:i], list[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (h *MemoryOrderHistory) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	var out []models.OrderHistory
	err := h.tx.committed(ctx, func() {
		h.mu.RLock()
		defer h.mu.RUnlock()
		out = make([]models.OrderHistory, len(h.entries[orderID]))
		copy(out, h.entries[orderID])
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MemoryNotifications in-memory хранилище уведомлений.
type MemoryNotifications struct {
	mu    sync.RWMutex
	items []models.Notification
}

// NewMemoryNotifications создаёт пустое хранилище уведомлений.
func NewMemoryNotifications() *MemoryNotifications {
	return &MemoryNotifications{}
}

func (n *MemoryNotifications) Create(_ context.Context, notification *models.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	notification.CreatedAt = time.Now().UTC()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, *notification)
	return nil
}

func (n *MemoryNotifications) GetByID(_ context.Context, id uuid.UUID) (*models.Notification, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for i := range n.items {
		if n.items[i].ID == id {
			cp := n.items[i]
			return &cp, nil
		}
	}
	return nil, ErrNotificationNotFound
}

func (n *MemoryNotifications) List(_ context.Context, userID int64, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	result := []models.Notification{}
	for i := len(n.items) - 1; i >= 0; i-- {
		it := n.items[i]
		if it.UserID != userID || (unreadOnly && it.IsRead) {
			continue
		}
		result = append(result, it)
	}
	if offset >= len(result) {
		return []models.Notification{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (n *MemoryNotifications) MarkAsRead(_ context.Context, id uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.items {
		if n.items[i].ID == id {
			n.items[i].IsRead = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (n *MemoryNotifications) MarkAllAsRead(_ context.Context, userID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.items {
		if n.items[i].UserID == userID {
			n.items[i].IsRead = true
		}
	}
	return nil
}

func (n *MemoryNotifications) CountUnread(_ context.Context, userID int64) (int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	count := 0
	for _, it := range n.items {
		if it.UserID == userID && !it.IsRead {
			count++
		}
	}
	return count, nil
}
