package template

// 内置模板：字段名 -> 中文说明。保留 // 注释，原样写入提示词。
var builtin = map[string]string{
	"purchase": `{
    "contractNo": "合同编号",
    "contractName": "合同名称",
    "buyer": "买方信息",
    "seller": "卖方信息",
    "paymentAccount": "付款账户",
    "receivingAccount": "收款账户",
    "signDate": "签订时间",
    "taxRate": "税率",
    "invoiceCategory": "发票类别",
    "invoiceType": "发票类型",
    "paymentDate": "付款日期",
    "paymentMethod": "付款方式",
    "minTolerance": "最小容差",
    "maxTolerance": "最大容差",
    "deliveryMethod": "履约方式（汽运/自提/水运等）",
    "startDate": "供货开始日期",
    "endDate": "供货结束日期",
    "location": "签约地点",
    "manager": "经办人",
    "totalPrice": "合同总价",
    "remarks": "备注",
    "goods": [
        {
            "name": "货物名称",
            "specification": "规格型号",
            "quantity": "数量",
            "unitPrice": "单价",
            "unit": "单位"
        }
        // ... 更多货物记录
    ]
}`,
	"sales": `{
    "contractNo": "合同编号",
    "contractName": "合同名称",
    "buyer": "买方信息",
    "seller": "卖方信息",
    "paymentAccount": "付款账户",
    "receivingAccount": "收款账户",
    "signDate": "签订时间",
    "taxRate": "税率",
    "invoiceType": "发票类型",
    "paymentDate": "付款日期",
    "paymentMethod": "付款方式",
    "minTolerance": "最小容差",
    "maxTolerance": "最大容差",
    "deliveryMethod": "履约方式（汽运/自提/水运等）",
    "startDate": "供货开始日期",
    "endDate": "供货结束日期",
    "location": "签约地点",
    "manager": "经办人",
    "totalPrice": "合同总价",
    "remarks": "备注",
    "goods": [
        {
            "name": "货物名称",
            "specification": "规格型号",
            "quantity": "数量",
            "unitPrice": "单价",
            "unit": "单位"
        }
        // ... 更多货物记录
    ]
}`,
	"transport": `{
    "contractNo": "合同编号",
    "contractName": "合同名称",
    "carrierInfo": "承运方信息",
    "shipperInfo": "托运方信息",
    "paymentAccount": "付款账户",
    "receivingAccount": "收款账户",
    "signDate": "签订时间",
    "taxRate": "税率",
    "invoiceType": "发票类型",
    "paymentDate": "付款日期",
    "paymentMethod": "付款方式",
    "totalPrice": "合同总价",
    "deliveryMethod": "运输方式",
    "startDate": "合同起始时间",
    "endDate": "合同截止时间",
    "manager": "经办人",
    "details": [
        {
            "origin": "起运地点",
            "destination": "收货单位",
            "goodsName": "货物名称",
            "unitPrice": "含税运输单价"
        }
        // ... 更多表格内运输明细
    ]
}`,
	"inbound_quality": `{
    "measurementNo": "计量号",
    "impurityDeduction": "扣杂",
    "netWeight": "结重",
    "date": "日期",
    "source": "来源",
    "radiationInspection": "放射性检测",
    "remarks": "备注",
    "items": [
        {
            "name": "品名",
            "percentage": "占比"
        }
        // ... 更多记录
    ],
    "disposals": [
        {
            "category": "处置物类别",
            "name": "处置物名称",
            "quantity": "数量（个）"
        }
        // ... 更多记录
    ]
}`,
	"inbound_weight": `{
    "measurementNo": "计量号",
    "date": "日期",
    "grossWeight": "毛重",
    "tareWeight": "皮重",
    "netWeight": "净重",
    "radiationCheck": "放射性检测",
    "remarks": "备注"
}`,
	"inbound_vehicle": `{
    "vehicleNo": "车牌号",
    "driverName": "司机姓名",
    "driverPhone": "司机电话",
    "driverIdCard": "司机身份证号"
}`,
	"outbound_quality_check": `{
    "measurementNo": "计量号",
    "impurityDeduction": "扣杂",
    "netWeight": "结重",
    "radiationInspection": "放射性检测",
    "remarks": "备注",
    "items": [
        {
            "itemName": "品名",
            "percentage": "占比"
        }
        // ... 更多记录
    ],
    "disposals": [
        {
            "category": "处置物类别",
            "name": "处置物名称",
            "quantity": "数量（个）"
        }
        // ... 更多记录
    ]
}`,
	"outbound_weight": `{
    "measurementNo": "计量号",
    "grossWeight": "毛重",
    "tareWeight": "皮重",
    "netWeight": "净重",
    "radiationCheck": "放射性检测"
}`,
	"purchase_waybill": `{
    "settlementNo": "结算单号",
    "settlementDate": "结算日期",
    "supplier": "供应商",
    "buyer": "购买方",
    "totalWeight": "总重量",
    "totalAmount": "总金额",
    "taxRate": "税率",
    "taxAmount": "税额",
    "paymentMethod": "付款方式",
    "invoiceCategory": "发票类别",
    "remarks": "备注",
    "measurements": [
        {
            "measurementNo": "计量号",
            "date": "日期",
            "vehicleNo": "车牌号",
            "grossWeight": "毛重",
            "tareWeight": "皮重",
            "netWeight": "净重",
            "finalWeight": "结重",
            "unitPrice": "单价",
            "amount": "金额"
        }
        // ... 更多计量记录
    ]
}`,
	"sales_waybill": `{
    "waybillNo": "运单号",
    "origin": "起运地",
    "destination": "目的地",
    "productName": "品名/种类",
    "transportWeight": "运输重量(kg)",
    "transportUnitPrice": "运输单价(元/kg)",
    "transportAmount": "运输金额(元)",
    "paidAmount": "已支付金额(元)",
    "invoicedAmount": "已开票金额(元)",
    "carrier": "承运者",
    "transportMethod": "运输方式",
    "waybillDate": "运单日期",
    "department": "上传部门",
    "status": "状态",
    "remarks": "备注"
}`,
	"sales_settlement": `{
    "settlementNo": "结算单编号",
    "settlementDate": "结算日期",
    "supplier": "供货单位",
    "buyer": "购货单位",
    "totalAmount": "结算总金额",
    "totalWeight": "结算总重量",
    "taxRate": "税率",
    "taxAmount": "税额",
    "paymentMethod": "结算方式",
    "invoiceCategory": "发票类别",
    "remarks": "备注"
}`,
	"purchase_payment_record": `{
    "transferRecordNo": "转账记录编号",
    "paymentMethod": "付款方式",
    "payerName": "付款人姓名",
    "payerContact": "付款人联系方式",
    "payeeName": "收款人姓名",
    "payeeContact": "收款人联系方式",
    "paymentAmount": "付款金额"
}`,
	"sales_receipt_record": `{
    "receiptNo": "收款单号",
    "receiptDate": "收款日期（x年x月x日x点x分x秒）",
    "receiptAmount": "收款金额",
    "receiptMethod": "收款方式",
    "payerName": "付款方户名",
    "payerAccount": "付款方账号",
    "payerBankName": "付款方银行名称（如中国农业银行，不包含具体支行）",
    "payerBankCode": "付款方银行代码",
    "payerBranchName": "付款方银行支行名称",
    "payeeName": "收款方户名",
    "payeeAccount": "收款方账号",
    "payeeBankName": "收款方银行名称（如中国农业银行，不包含具体支行）",
    "payeeBankCode": "收款方银行代码",
    "payeeBranchName": "收款方银行支行名称",
    "receiptPurpose": "收款用途",
    "remarks": "备注"
}`,
	"purchase_invoice_receipt": `{
    "supplierName": "供应商名称",
    "supplierTaxNo": "供应商税号",
    "buyerName": "采购商名称",
    "buyerTaxNo": "采购商税号",
    "invoiceNo": "发票号码",
    "invoiceCode": "发票代码",
    "invoiceType": "发票类型",
    "amount": "发票金额",
    "taxRate": "税率",
    "taxAmount": "税额",
    "invoiceDate": "开票日期",
    "receiveDate": "收票日期",
    "remarks": "备注"
}`,
	"purchase_reverse_invoice": `{
    "sellerName": "销售方名称",
    "sellerTaxNo": "销售方纳税人识别号",
    "buyerName": "采购方名称",
    "buyerTaxNo": "采购方纳税人识别号",
    "amount": "金额（元）",
    "taxRate": "税率",
    "taxAmount": "税额"
}`,
	"sales_invoice": `{
    "sellerName": "销售方名称",
    "sellerTaxNo": "销售方纳税人识别号",
    "buyerName": "采购方名称",
    "buyerTaxNo": "采购方纳税人识别号",
    "amount": "金额（元）",
    "taxRate": "税率",
    "taxAmount": "税额"
}`,
	"transport_invoice_receipt": `{
    "carrierName": "承运方名称",
    "carrierTaxNo": "承运方纳税人识别号",
    "consignorName": "托运方名称",
    "consignorTaxNo": "托运方纳税人识别号",
    "amount": "金额（元）",
    "taxRate": "税率",
    "taxAmount": "税额"
}`,
	"driver_info": `{
    "vehicleNo": "车牌号",
    "driverName": "司机姓名",
    "driverPhone": "司机电话",
    "driverIdCard": "司机身份证号"
}`,
	"none": `{}`,
}
