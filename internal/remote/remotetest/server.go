// Package remotetest provides an in-process commerce backend serving the
// cart endpoints the remote client talks to.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

type Item struct {
	LineID    int
	ProductID string
	Quantity  int
}

type Call struct {
	Method string
	Path   string
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	products map[string]Product
	items    []Item
	nextID   int
	calls    []Call
	failures map[string]int
	token    string
}

// NewServer starts a backend whose API root is URL + "/api/".
func NewServer() *Server {
	s := &Server{
		products: make(map[string]Product),
		nextID:   100,
		failures: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/cart/", s.getCart)
		r.Post("/cart/items/", s.addItem)
		r.Patch("/cart/items/{id}/", s.updateItem)
		r.Delete("/cart/items/{id}/", s.deleteItem)
	})

	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) BaseURL() string {
	return s.URL + "/api/"
}

// RequireToken makes every call without "Bearer <token>" fail with 401.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Server) AddProduct(id, name, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = Product{ID: id, Name: name, Price: decimal.RequireFromString(price)}
}

// Seed puts a line into the cart without recording a call. Seeding the same
// product twice creates a duplicate line.
func (s *Server) Seed(productID string, quantity int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.items = append(s.items, Item{LineID: s.nextID, ProductID: productID, Quantity: quantity})
	return s.nextID
}

// FailMethod answers every request with the given method with status until
// called again with status 0.
func (s *Server) FailMethod(method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, method)
		return
	}
	s.failures[method] = status
}

func (s *Server) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

// Quantities maps product id to the summed quantity in the cart.
func (s *Server) Quantities() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.items))
	for _, it := range s.items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo counts recorded calls with the given method.
func (s *Server) CallsTo(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		status := s.failures[r.Method]
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, `{"detail":"injected failure"}`, status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getCart(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]map[string]any, 0, len(s.items))
	subtotal := decimal.Zero
	for _, it := range s.items {
		p := s.productLocked(it.ProductID)
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		items = append(items, s.itemJSONLocked(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"subtotal": subtotal.StringFixed(2),
	})
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID any `json:"product_id"`
		Quantity  int `json:"quantity"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	err := dec.Decode(&req)
	var id string
	switch v := req.ProductID.(type) {
	case json.Number:
		id = v.String()
	case string:
		id = v
	}
	if err != nil || id == "" || req.Quantity < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid item"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ProductID == id {
			s.items[i].Quantity += req.Quantity
			writeJSON(w, http.StatusOK, s.itemJSONLocked(s.items[i]))
			return
		}
	}
	s.nextID++
	it := Item{LineID: s.nextID, ProductID: id, Quantity: req.Quantity}
	s.items = append(s.items, it)
	writeJSON(w, http.StatusCreated, s.itemJSONLocked(it))
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid quantity"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(chi.URLParam(r, "id"))
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
		return
	}
	s.items[i].Quantity = req.Quantity
	writeJSON(w, http.StatusOK, s.itemJSONLocked(s.items[i]))
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(chi.URLParam(r, "id"))
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
		return
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) indexLocked(lineID string) int {
	id, err := strconv.Atoi(lineID)
	if err != nil {
		return -1
	}
	for i, it := range s.items {
		if it.LineID == id {
			return i
		}
	}
	return -1
}

func (s *Server) productLocked(id string) Product {
	if p, ok := s.products[id]; ok {
		return p
	}
	return Product{ID: id, Name: "Product " + id, Price: decimal.Zero}
}

// itemJSONLocked encodes numeric product ids as numbers, the way a
// relational backend does.
func (s *Server) itemJSONLocked(it Item) map[string]any {
	p := s.productLocked(it.ProductID)
	var productID any = p.ID
	if n, err := strconv.Atoi(p.ID); err == nil && strconv.Itoa(n) == p.ID {
		productID = n
	}
	return map[string]any{
		"id": it.LineID,
		"product": map[string]any{
			"id":    productID,
			"name":  p.Name,
			"price": p.Price.StringFixed(2),
		},
		"quantity": it.Quantity,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
