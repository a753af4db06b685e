package dispatchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/CourierDesk/internal/models"
	"github.com/BearBump/CourierDesk/internal/services/dispatch"
	"github.com/BearBump/CourierDesk/internal/services/settlement"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type fakeOrders struct {
	createOut     *models.Order
	createErr     error
	getOut        *models.Order
	getErr        error
	trackOut      *models.Order
	trackErr      error
	transitionIn  dispatch.TransitionCommand
	transitionOut *models.Order
	transitionErr error
	paymentIn struct {
		orderID uint64
		status  string
	}
	paymentErr error
	resetRole  string
	resetErr   error
}

func (f *fakeOrders) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	return f.createOut, f.createErr
}
func (f *fakeOrders) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	return f.getOut, f.getErr
}
func (f *fakeOrders) TrackByToken(ctx context.Context, token string) (*models.Order, error) {
	return f.trackOut, f.trackErr
}
func (f *fakeOrders) OrderEvents(ctx context.Context, orderID uint64, limit int) ([]*models.OrderEvent, error) {
	return nil, nil
}
func (f *fakeOrders) Transition(ctx context.Context, cmd dispatch.TransitionCommand) (*models.Order, error) {
	f.transitionIn = cmd
	return f.transitionOut, f.transitionErr
}
func (f *fakeOrders) ApplyPaymentStatus(ctx context.Context, orderID uint64, status string) error {
	f.paymentIn.orderID = orderID
	f.paymentIn.status = status
	return f.paymentErr
}
func (f *fakeOrders) ResetOrders(ctx context.Context, actorRole string) error {
	f.resetRole = actorRole
	return f.resetErr
}

type fakeAssignments struct {
	claimOut *models.Order
	claimErr error
}

func (f *fakeAssignments) Claim(ctx context.Context, orderID, courierID uint64) (*models.Order, error) {
	return f.claimOut, f.claimErr
}
func (f *fakeAssignments) Release(ctx context.Context, orderID uint64) error { return nil }
func (f *fakeAssignments) AvailableOrders(ctx context.Context) ([]*models.Order, error) {
	return nil, nil
}
func (f *fakeAssignments) RegisterCourier(ctx context.Context, in models.CourierCreateInput) (*models.Courier, error) {
	return &models.Courier{ID: 7, Name: in.Name, Phone: in.Phone, IsActive: true}, nil
}
func (f *fakeAssignments) Courier(ctx context.Context, id uint64) (*models.Courier, error) {
	return nil, models.ErrNotFound
}
func (f *fakeAssignments) UpdateLocation(ctx context.Context, courierID uint64, lat, lng float64) error {
	return nil
}
func (f *fakeAssignments) SetActive(ctx context.Context, courierID uint64, active bool) error {
	return nil
}
func (f *fakeAssignments) TrackURL(token string) string { return "https://t.example/" + token }

type fakeSettlements struct {
	confirmOut *pgdispatch.SettlementResult
	confirmErr error
	balanceOut *settlement.BalanceView
	balanceErr error
}

func (f *fakeSettlements) ConfirmDelivery(ctx context.Context, orderID, courierID uint64, code string) (*pgdispatch.SettlementResult, error) {
	return f.confirmOut, f.confirmErr
}
func (f *fakeSettlements) RegisterAdminPayment(ctx context.Context, courierID uint64, amount int64, reference string) (*models.BalanceTransaction, error) {
	return &models.BalanceTransaction{ID: 1, CourierID: courierID, Type: models.TxnTypeAdminPayment, Amount: -amount}, nil
}
func (f *fakeSettlements) AdjustBalance(ctx context.Context, courierID uint64, amount int64, reference string) (*models.BalanceTransaction, error) {
	return &models.BalanceTransaction{ID: 2, CourierID: courierID, Type: models.TxnTypeAdjustment, Amount: amount}, nil
}
func (f *fakeSettlements) Balance(ctx context.Context, courierID uint64) (*settlement.BalanceView, error) {
	return f.balanceOut, f.balanceErr
}

func newTestServer(o *fakeOrders, a *fakeAssignments, s *fakeSettlements) *httptest.Server {
	r := chi.NewRouter()
	New(o, a, s).Routes(r)
	return httptest.NewServer(r)
}

func sampleOrder() *models.Order {
	code := "4821"
	token := "tok-1"
	courierID := uint64(7)
	return &models.Order{
		ID: 1, OrderNo: 1001,
		CustomerName: "Ivan", CustomerPhone: "+79001234567", Address: "Lenina 1",
		SubtotalAmount: 1000000, DeliveryFeeAmount: 300000, TotalAmount: 1300000,
		PaymentMethod: models.PaymentMethodCash, PaymentStatus: models.PaymentStatusPending,
		Status: models.OrderStatusAssigned, StatusVersion: 4,
		AssignedCourierID: &courierID, DeliveryCode: &code, TrackingToken: &token,
		CreatedAt: time.Now().UTC(),
	}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateOrder_Created(t *testing.T) {
	o := &fakeOrders{createOut: sampleOrder()}
	srv := newTestServer(o, &fakeAssignments{}, &fakeSettlements{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders", map[string]any{
		"customerName":   "Ivan",
		"customerPhone":  "+79001234567",
		"address":        "Lenina 1",
		"subtotalAmount": 1000000,
		"paymentMethod":  "cash",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var v orderView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.Equal(t, uint64(1001), v.OrderNo)
	// Код доставки не должен утекать в обычные ответы.
	require.Empty(t, v.DeliveryCode)
}

func TestCreateOrder_ValidationAndDisabledMethod(t *testing.T) {
	o := &fakeOrders{createErr: models.ErrValidation}
	srv := newTestServer(o, &fakeAssignments{}, &fakeSettlements{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders", map[string]any{})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	o.createErr = models.ErrUnauthorized
	resp2 := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders", map[string]any{"paymentMethod": "cash"})
	defer resp2.Body.Close()
	require.Equal(t, http.StatusForbidden, resp2.StatusCode)
}

func TestClaim_ReturnsCodeOnce(t *testing.T) {
	a := &fakeAssignments{claimOut: sampleOrder()}
	srv := newTestServer(&fakeOrders{}, a, &fakeSettlements{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders/1/claim", map[string]any{"courierId": 7})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v orderView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.Equal(t, "4821", v.DeliveryCode)
	require.Equal(t, "https://t.example/tok-1", v.TrackURL)
}

func TestClaim_AlreadyAssigned(t *testing.T) {
	a := &fakeAssignments{claimErr: models.ErrAlreadyAssigned}
	srv := newTestServer(&fakeOrders{}, a, &fakeSettlements{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders/1/claim", map[string]any{"courierId": 7})
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubmitCode_MismatchCarriesAttempts(t *testing.T) {
	s := &fakeSettlements{confirmErr: &models.CodeMismatchError{Attempts: 3}}
	srv := newTestServer(&fakeOrders{}, &fakeAssignments{}, s)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders/1/code", map[string]any{
		"courierId": 7, "code": "0000",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var v errorView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.Equal(t, int32(3), v.Attempts)
}

func TestSubmitCode_RateLimited(t *testing.T) {
	s := &fakeSettlements{confirmErr: models.ErrRateLimited}
	srv := newTestServer(&fakeOrders{}, &fakeAssignments{}, s)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders/1/code", map[string]any{
		"courierId": 7, "code": "0000",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSubmitCode_Settled(t *testing.T) {
	o := sampleOrder()
	o.Status = models.OrderStatusDelivered
	s := &fakeSettlements{confirmOut: &pgdispatch.SettlementResult{
		Order:      o,
		NewBalance: 1600000,
		Transactions: []*models.BalanceTransaction{
			{ID: 1, CourierID: 7, Type: models.TxnTypeDeliveryFee, Amount: 300000},
			{ID: 2, CourierID: 7, Type: models.TxnTypeCashCollection, Amount: 1300000},
		},
	}}
	srv := newTestServer(&fakeOrders{}, &fakeAssignments{}, s)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders/1/code", map[string]any{
		"courierId": 7, "code": "4821",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v settlementView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.Equal(t, int64(1600000), v.NewBalance)
	require.Len(t, v.Transactions, 2)
	require.Equal(t, models.OrderStatusDelivered, v.Order.Status)
}

func TestTransition_InvalidEdge(t *testing.T) {
	o := &fakeOrders{transitionErr: &models.InvalidTransitionError{
		From: models.OrderStatusPending, To: models.OrderStatusReady, Role: models.RoleCourier,
	}}
	srv := newTestServer(o, &fakeAssignments{}, &fakeSettlements{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders/1/transition", map[string]any{
		"target": "READY", "actorRole": "courier",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTrack_PublicViewHidesPhoneAndCode(t *testing.T) {
	o := &fakeOrders{trackOut: sampleOrder()}
	srv := newTestServer(o, &fakeAssignments{}, &fakeSettlements{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/track/tok-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.Equal(t, "ASSIGNED", raw["status"])
	require.NotContains(t, raw, "customerPhone")
	require.NotContains(t, raw, "deliveryCode")
}

func TestPaymentWebhook(t *testing.T) {
	o := &fakeOrders{}
	srv := newTestServer(o, &fakeAssignments{}, &fakeSettlements{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/webhooks/payment", map[string]any{
		"orderId": 1, "status": "APPROVED",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(1), o.paymentIn.orderID)
	require.Equal(t, "APPROVED", o.paymentIn.status)
}

func TestCourierBalance(t *testing.T) {
	s := &fakeSettlements{balanceOut: &settlement.BalanceView{Balance: 420000}}
	srv := newTestServer(&fakeOrders{}, &fakeAssignments{}, s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/couriers/7/balance")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v settlement.BalanceView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.Equal(t, int64(420000), v.Balance)
}

func TestAdminPayment_Created(t *testing.T) {
	s := &fakeSettlements{}
	srv := newTestServer(&fakeOrders{}, &fakeAssignments{}, s)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/couriers/7/payments", map[string]any{
		"amount": 500000, "reference": "week 35 payout",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestAdminReset_Forbidden(t *testing.T) {
	o := &fakeOrders{resetErr: models.ErrUnauthorized}
	srv := newTestServer(o, &fakeAssignments{}, &fakeSettlements{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/reset", map[string]any{
		"actorRole": "courier",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBadPathID(t *testing.T) {
	srv := newTestServer(&fakeOrders{}, &fakeAssignments{}, &fakeSettlements{})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders/abc/claim", map[string]any{"courierId": 7})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
