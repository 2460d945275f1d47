package provider

import "testing"

func TestFinal_IsNotFunctionCall(t *testing.T) {
	r := Final("hello")
	if r.IsFunctionCall() {
		t.Fatal("Final should not report as a function call")
	}
}

func TestFunctionCall_IsFunctionCall(t *testing.T) {
	r := FunctionCall(Call{ID: "call_1", Name: "read_file"})
	if !r.IsFunctionCall() {
		t.Fatal("FunctionCall should report as a function call")
	}
	if len(r.Calls) != 1 || r.Calls[0].Name != "read_file" {
		t.Fatalf("unexpected calls: %+v", r.Calls)
	}
}

func TestMultiFunctionCall_PreservesOrder(t *testing.T) {
	calls := []Call{{ID: "a", Name: "read_file"}, {ID: "b", Name: "write_file"}}
	r := MultiFunctionCall(calls)
	if !r.IsFunctionCall() || len(r.Calls) != 2 {
		t.Fatalf("expected two calls, got %+v", r.Calls)
	}
	if r.Calls[0].ID != "a" || r.Calls[1].ID != "b" {
		t.Fatalf("expected call order preserved, got %+v", r.Calls)
	}
}
