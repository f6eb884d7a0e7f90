package engine

import (
	"context"
	"fmt"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// Statuses of the bill-of-materials intents
const (
	StatusMissingCode = "missing_product_code"
	StatusNoBOM       = "no_bom"
)

// Prompts offered when a product code is needed but unknown
var browsePrompts = []string{"Tìm ghế sofa", "Tìm bàn ăn"}

// Handle dispatches a classified intent. Only unknown intents, missing
// products and invalid input are errors; retrieval problems come back as
// a status.
func (e *Engine) Handle(ctx context.Context, in types.Intent) (*Response, error) {
	var (
		resp *Response
		err  error
	)
	req := SearchRequest{
		Query:     in.Query,
		Params:    in.Params,
		SessionID: in.SessionID,
		Limit:     in.Limit,
		IsBroad:   in.IsBroadQuery,
	}

	switch in.Name {
	case types.IntentSearchProduct:
		req.Kind = types.KindProduct
		resp, err = e.Search(ctx, req)
	case types.IntentSearchMaterial:
		req.Kind = types.KindMaterial
		resp, err = e.Search(ctx, req)
	case types.IntentProductByMaterial, types.IntentMaterialForProduct:
		resp, err = e.CrossSearch(ctx, in.Name, req)
	case types.IntentQueryProductMaterials:
		resp, err = e.productMaterials(ctx, in)
	case types.IntentCalculateProductCost:
		resp, err = e.productCost(ctx, in)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownIntent, in.Name)
	}
	if err != nil {
		return nil, err
	}

	resp.Intent = in.Name
	if resp.Suggestions == nil {
		resp.Suggestions = suggest(in, resp)
	}
	if in.IsBroadQuery {
		resp.FollowUp = in.FollowUpQuestion
	}
	e.remember(ctx, in.SessionID, resp)
	return resp, nil
}

func (e *Engine) productMaterials(ctx context.Context, in types.Intent) (*Response, error) {
	report, resp, err := e.costFor(ctx, in)
	if report == nil {
		return resp, err
	}
	resp.Kind = types.KindMaterial
	resp.Items = costItems(report)
	return resp, nil
}

func (e *Engine) productCost(ctx context.Context, in types.Intent) (*Response, error) {
	report, resp, err := e.costFor(ctx, in)
	if report == nil {
		return resp, err
	}
	resp.Kind = types.KindProduct
	return resp, nil
}

// costFor resolves the product and prices it. A nil report means resp or
// err is final.
func (e *Engine) costFor(ctx context.Context, in types.Intent) (*CostReport, *Response, error) {
	headcode := e.resolveHeadcode(ctx, in.Params.Code, in.SessionID)
	if headcode == "" {
		return nil, &Response{
			Method:      StatusMissingCode,
			Status:      StatusMissingCode,
			Items:       []Item{},
			Suggestions: browsePrompts,
		}, nil
	}

	report, err := e.ProductCost(ctx, headcode)
	if err != nil {
		return nil, nil, err
	}
	resp := &Response{
		Method: "bom",
		Status: StatusOK,
		Items:  []Item{},
		Cost:   report,
	}
	if !report.HasBOM() {
		resp.Status = StatusNoBOM
	}
	return report, resp, nil
}

// suggest builds the follow-up prompts for a response
func suggest(in types.Intent, resp *Response) []string {
	if in.IsBroadQuery && len(in.SuggestedActions) > 0 {
		return append([]string(nil), in.SuggestedActions...)
	}
	if resp.Cost != nil {
		if in.Name == types.IntentCalculateProductCost {
			return []string{"Xem vật liệu " + resp.Cost.Headcode}
		}
		return []string{"Tính chi phí " + resp.Cost.Headcode}
	}
	if len(resp.Items) == 0 {
		return nil
	}

	top := resp.Items[0]
	switch resp.Kind {
	case types.KindProduct:
		return []string{
			"Tính chi phí " + top.EntityCode,
			"Xem vật liệu " + top.EntityCode,
		}
	case types.KindMaterial:
		return []string{
			"Chi tiết " + top.DisplayName,
			"Xem nhóm vật liệu khác",
		}
	}
	return nil
}
