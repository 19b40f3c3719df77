// Package shoptools provides the shopping tools agents use to work a task:
// catalog search, product cards, the per-task cart draft, share links, and
// the final_answer terminal tool.
package shoptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/germanamz/shoppy/pkg/agentctx"
	"github.com/germanamz/shoppy/pkg/cart"
	"github.com/germanamz/shoppy/pkg/retailer"
	"github.com/germanamz/shoppy/pkg/tools/toolbox"
)

// FinalAnswerTool is the name of the terminal tool the agent loop watches for.
const FinalAnswerTool = "final_answer"

const defaultSearchLimit = 5

// Service binds one retailer client and one cart store into a toolbox. The
// cart store keys drafts by the task ID carried in the handler context, so a
// Service can safely serve concurrent tasks.
type Service struct {
	client *retailer.Client
	carts  *cart.Store
}

// New creates a Service. A nil carts store gets a fresh one.
func New(client *retailer.Client, carts *cart.Store) *Service {
	if carts == nil {
		carts = cart.NewStore()
	}

	return &Service{client: client, carts: carts}
}

// Carts returns the service's cart store.
func (s *Service) Carts() *cart.Store { return s.carts }

// Tools returns a ToolBox with the full shopping tool set.
func (s *Service) Tools() *toolbox.ToolBox {
	tb := toolbox.New()

	tb.Register(
		toolbox.Tool{
			Name:        "search_products",
			Description: "Search the VkusVill catalog by text query. Returns a JSON list of matching products with id, name, price and availability.",
			InputSchema: toolbox.SchemaFor[searchInput](),
			Handler:     s.handleSearch,
		},
		toolbox.Tool{
			Name:        "get_product_details",
			Description: "Fetch the full product card: composition, description and nutritional value.",
			InputSchema: toolbox.SchemaFor[detailsInput](),
			Handler:     s.handleDetails,
		},
		toolbox.Tool{
			Name:        "cart_add",
			Description: "Add a product to the cart draft. Adding the same product again increases its quantity.",
			InputSchema: toolbox.SchemaFor[cartAddInput](),
			Handler:     s.handleCartAdd,
		},
		toolbox.Tool{
			Name:        "cart_remove",
			Description: "Remove a product from the cart draft.",
			InputSchema: toolbox.SchemaFor[cartRemoveInput](),
			Handler:     s.handleCartRemove,
		},
		toolbox.Tool{
			Name:        "cart_view",
			Description: "Show the current cart draft with positions and total price.",
			InputSchema: toolbox.SchemaFor[cartViewInput](),
			Handler:     s.handleCartView,
		},
		toolbox.Tool{
			Name:        "create_cart_link",
			Description: "Create a shareable cart link on the store side. Uses the cart draft when no items are passed.",
			InputSchema: toolbox.SchemaFor[cartLinkInput](),
			Handler:     s.handleCartLink,
		},
		toolbox.Tool{
			Name:        FinalAnswerTool,
			Description: "Finish the task. Call exactly once with the complete answer for the user; this ends the run.",
			InputSchema: toolbox.SchemaFor[finalAnswerInput](),
			Handler:     handleFinalAnswer,
		},
	)

	return tb
}

// --- input types ---

type searchInput struct {
	Query string `json:"query"           jsonschema:"required,description=Search text in Russian"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of products to return; default 5"`
}

type detailsInput struct {
	ProductID  string   `json:"product_id,omitempty"  jsonschema:"description=Product ID from search results"`
	ProductIDs []string `json:"product_ids,omitempty" jsonschema:"description=Several product IDs fetched together; use when comparing products"`
}

type cartAddInput struct {
	ProductID string  `json:"product_id"         jsonschema:"required,description=Product ID from search results"`
	Name      string  `json:"name"               jsonschema:"required,description=Product name as shown to the user"`
	Quantity  int     `json:"quantity,omitempty" jsonschema:"description=How many to add; default 1"`
	Price     float64 `json:"price,omitempty"    jsonschema:"description=Unit price if known"`
}

type cartRemoveInput struct {
	ProductID string `json:"product_id" jsonschema:"required,description=Product ID to remove"`
}

type cartViewInput struct{}

type cartLinkInput struct {
	Items []linkItem `json:"items,omitempty" jsonschema:"description=Cart positions; omit to use the current cart draft"`
}

type linkItem struct {
	ProductID string `json:"product_id"         jsonschema:"required,description=Product ID"`
	Name      string `json:"name,omitempty"     jsonschema:"description=Product name"`
	Quantity  int    `json:"quantity,omitempty" jsonschema:"description=How many; default 1"`
}

type finalAnswerInput struct {
	Answer string `json:"answer" jsonschema:"required,description=Complete answer for the user in the language of the task"`
}

// --- handlers ---

func (s *Service) handleSearch(ctx context.Context, input json.RawMessage) (string, error) {
	var in searchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("search_products: invalid input: %w", err)
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	products, err := s.client.SearchProducts(ctx, in.Query, limit)
	if err != nil {
		return "", fmt.Errorf("search_products: %w", err)
	}

	if products == nil {
		products = []retailer.Product{}
	}

	return marshalResult(products)
}

func (s *Service) handleDetails(ctx context.Context, input json.RawMessage) (string, error) {
	var in detailsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("get_product_details: invalid input: %w", err)
	}

	if len(in.ProductIDs) > 0 {
		details, err := s.client.GetProducts(ctx, in.ProductIDs)
		if err != nil {
			return "", fmt.Errorf("get_product_details: %w", err)
		}

		return marshalResult(details)
	}

	if in.ProductID == "" {
		return "", errors.New("get_product_details: product_id or product_ids is required")
	}

	details, err := s.client.GetProduct(ctx, in.ProductID)
	if err != nil {
		return "", fmt.Errorf("get_product_details: %w", err)
	}

	return marshalResult(details)
}

func (s *Service) handleCartAdd(ctx context.Context, input json.RawMessage) (string, error) {
	var in cartAddInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("cart_add: invalid input: %w", err)
	}

	taskID := agentctx.TaskIDFromContext(ctx)

	s.carts.Add(taskID, cart.Item{
		ProductID: in.ProductID,
		Name:      in.Name,
		Quantity:  in.Quantity,
		Price:     in.Price,
	})

	return s.cartSnapshot(taskID, "added", in.ProductID)
}

func (s *Service) handleCartRemove(ctx context.Context, input json.RawMessage) (string, error) {
	var in cartRemoveInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("cart_remove: invalid input: %w", err)
	}

	taskID := agentctx.TaskIDFromContext(ctx)

	if !s.carts.Remove(taskID, in.ProductID) {
		return "", fmt.Errorf("cart_remove: product %s is not in the cart", in.ProductID)
	}

	return s.cartSnapshot(taskID, "removed", in.ProductID)
}

func (s *Service) handleCartView(ctx context.Context, _ json.RawMessage) (string, error) {
	taskID := agentctx.TaskIDFromContext(ctx)

	return s.cartSnapshot(taskID, "", "")
}

func (s *Service) handleCartLink(ctx context.Context, input json.RawMessage) (string, error) {
	var in cartLinkInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("create_cart_link: invalid input: %w", err)
	}

	items := make([]retailer.CartItem, 0, len(in.Items))
	for _, it := range in.Items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, retailer.CartItem{ProductID: it.ProductID, Name: it.Name, Quantity: qty})
	}

	if len(items) == 0 {
		taskID := agentctx.TaskIDFromContext(ctx)
		for _, it := range s.carts.Items(taskID) {
			items = append(items, retailer.CartItem{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity})
		}
	}

	if len(items) == 0 {
		return "", fmt.Errorf("create_cart_link: cart is empty; add products with cart_add or pass items explicitly")
	}

	link, err := s.client.CreateCartLink(ctx, items)
	if err != nil {
		return "", fmt.Errorf("create_cart_link: %w", err)
	}

	return link, nil
}

func handleFinalAnswer(_ context.Context, input json.RawMessage) (string, error) {
	var in finalAnswerInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("final_answer: invalid input: %w", err)
	}

	if in.Answer == "" {
		return "", fmt.Errorf("final_answer: answer must not be empty")
	}

	return in.Answer, nil
}

// --- result shaping ---

// cartView is the JSON the cart tools return to the model.
type cartView struct {
	Status string      `json:"status,omitempty"`
	Item   string      `json:"product_id,omitempty"`
	Items  []cart.Item `json:"items"`
	Total  float64     `json:"total"`
}

func (s *Service) cartSnapshot(taskID, status, productID string) (string, error) {
	return marshalResult(cartView{
		Status: status,
		Item:   productID,
		Items:  s.carts.Items(taskID),
		Total:  s.carts.Total(taskID),
	})
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}

	return string(b), nil
}
